package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// Target format every clip is normalized to before composition
const (
	TargetWidth      = 1280
	TargetHeight     = 720
	TargetFPS        = 30
	TargetSampleRate = 48000
	TargetChannels   = 2

	TitleSeconds   = 5
	PreviewSeconds = 5
)

const stderrLimit = 2000

// Assets are the static files the title and segment renders draw on
type Assets struct {
	TemplateImage string
	MaskImage     string
	FontFile      string
	TitleFontFile string
}

// FFmpeg implements Encoder by shelling out to ffmpeg and ffprobe
type FFmpeg struct {
	binary string
	probe  string
	assets Assets
	runner commandRunner
	logger *slog.Logger
}

// NewFFmpeg creates an encoder using the given binaries and assets
func NewFFmpeg(binary, probe string, assets Assets, logger *slog.Logger) *FFmpeg {
	return newFFmpeg(binary, probe, assets, execRunner{}, logger)
}

func newFFmpeg(binary, probe string, assets Assets, runner commandRunner, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if probe == "" {
		probe = "ffprobe"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FFmpeg{
		binary: binary,
		probe:  probe,
		assets: assets,
		runner: runner,
		logger: logger.With(slog.String("component", "ffmpeg")),
	}
}

// CheckAssets reports missing template, mask or font files
func (f *FFmpeg) CheckAssets() error {
	var missing []string
	for _, path := range []string{f.assets.TemplateImage, f.assets.MaskImage, f.assets.FontFile, f.assets.TitleFontFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("media assets not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Run dispatches one encoder operation
func (f *FFmpeg) Run(ctx context.Context, req Request) (string, error) {
	if req.Output == "" {
		return "", fmt.Errorf("%s: output path is required", req.Op)
	}

	var steps [][]string
	switch req.Op {
	case OpReencode:
		if len(req.Inputs) != 1 {
			return "", fmt.Errorf("%s: want 1 input, got %d", req.Op, len(req.Inputs))
		}
		steps = [][]string{reencodeArgs(req.Inputs[0], req.Output)}
	case OpGenerateTitle:
		if len(req.Inputs) != 1 {
			return "", fmt.Errorf("%s: want 1 input, got %d", req.Op, len(req.Inputs))
		}
		return f.generateTitle(ctx, req)
	case OpComposeSegment:
		if len(req.Inputs) != 1 {
			return "", fmt.Errorf("%s: want 1 input, got %d", req.Op, len(req.Inputs))
		}
		steps = [][]string{composeArgs(req.Inputs[0], req.Output, req.Params, f.assets.FontFile)}
	case OpExtractFrame:
		if len(req.Inputs) != 1 {
			return "", fmt.Errorf("%s: want 1 input, got %d", req.Op, len(req.Inputs))
		}
		steps = [][]string{frameArgs(req.Inputs[0], req.Output, req.Params.Offset)}
	case OpConcatenate:
		if len(req.Inputs) != 1 {
			return "", fmt.Errorf("%s: want the list file as the only input, got %d", req.Op, len(req.Inputs))
		}
		steps = [][]string{concatArgs(req.Inputs[0], req.Output)}
	default:
		return "", fmt.Errorf("unsupported encoder operation %q", req.Op)
	}

	for _, args := range steps {
		if err := f.exec(ctx, req.Op, args); err != nil {
			return "", err
		}
	}
	if err := verifyOutput(req.Op, req.Output); err != nil {
		return "", err
	}
	return req.Output, nil
}

// generateTitle renders the opening clip in three passes: template with
// silent audio, circular candidate still, then the name text
func (f *FFmpeg) generateTitle(ctx context.Context, req Request) (string, error) {
	base := sidecarPath(req.Output, "base")
	withClip := sidecarPath(req.Output, "clip")
	defer func() {
		for _, p := range []string{base, withClip} {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("failed to remove title intermediate", slog.String("path", p), slog.String("error", err.Error()))
			}
		}
	}()

	steps := [][]string{
		titleBaseArgs(f.assets.TemplateImage, base),
		titleOverlayArgs(base, req.Inputs[0], f.assets.MaskImage, withClip),
		titleTextArgs(withClip, req.Output, TitleText(req.Params.Label), f.assets.TitleFontFile),
	}
	for _, args := range steps {
		if err := f.exec(ctx, req.Op, args); err != nil {
			return "", err
		}
	}
	if err := verifyOutput(req.Op, req.Output); err != nil {
		return "", err
	}
	return req.Output, nil
}

// exec runs ffmpeg once and classifies the failure
func (f *FFmpeg) exec(ctx context.Context, op Operation, args []string) error {
	f.logger.Debug("running ffmpeg", slog.String("operation", string(op)), slog.Any("args", args))

	result, err := f.runner.Run(ctx, f.binary, args...)
	if err == nil {
		return nil
	}
	return classify(ctx, f.binary, op, result, err)
}

func classify(ctx context.Context, tool string, op Operation, result commandResult, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return types.Wrap(types.ErrTimeout, "", string(op), "deadline exceeded", ctxErr)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w", op, &types.ProcessError{
		Tool:     tool,
		ExitCode: result.ExitCode,
		Stderr:   tail(result.Stderr, stderrLimit),
		Err:      err,
	})
}

func verifyOutput(op Operation, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return types.Wrap(types.ErrProcess, "", string(op), "output missing", err)
	}
	if info.Size() == 0 {
		return types.Wrap(types.ErrProcess, "", string(op), "output is empty", nil)
	}
	return nil
}

func reencodeArgs(in, out string) []string {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d",
		TargetWidth, TargetHeight, TargetWidth, TargetHeight, TargetFPS)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-vf", vf,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-r", strconv.Itoa(TargetFPS),
		"-shortest",
		out,
	}
}

func titleBaseArgs(template, out string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-loop", "1", "-i", template,
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", TargetSampleRate),
		"-vf", fmt.Sprintf("scale=%d:%d,format=yuv420p", TargetWidth, TargetHeight),
		"-t", strconv.Itoa(TitleSeconds),
		"-r", strconv.Itoa(TargetFPS),
		"-c:v", "libx264", "-c:a", "aac",
		"-shortest",
		out,
	}
}

func titleOverlayArgs(base, clip, mask, out string) []string {
	filter := "[1:v]select=eq(n\\,5),scale=122:122[vid];" +
		"[vid][2:v]alphamerge[masked];" +
		"[0:v][masked]overlay=100:488[titled]"
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", base, "-i", clip, "-i", mask,
		"-filter_complex", filter,
		"-map", "[titled]", "-map", "0:a",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "copy",
		"-t", strconv.Itoa(TitleSeconds),
		out,
	}
}

func titleTextArgs(in, out, text, font string) []string {
	draw := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=42:x=265:y=561", text)
	if font != "" {
		draw += ":fontfile=" + font
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-vf", draw,
		"-c:v", "libx264", "-preset", "fast", "-crf", "28",
		"-maxrate", "1000k", "-bufsize", "2000k", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(TargetFPS),
		"-c:a", "aac", "-b:a", "96k",
		"-ar", strconv.Itoa(TargetSampleRate), "-ac", strconv.Itoa(TargetChannels),
		"-movflags", "+faststart",
		"-t", strconv.Itoa(TitleSeconds),
		out,
	}
}

func labelFilter(label, font string) string {
	draw := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=32:borderw=2:bordercolor=black:x=20:y=20", SanitizeText(label))
	if font != "" {
		draw += ":fontfile=" + font
	}
	return draw
}

func composeArgs(primary, out string, p Params, font string) []string {
	mainChain := fmt.Sprintf("[0:v]scale=%d:%d,format=yuv420p[main];", TargetWidth, TargetHeight)
	draw := labelFilter(p.Label, font)

	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", primary}
	var filter string
	switch {
	case p.Preview == "":
		filter = mainChain + "[main]" + draw + "[vout]"
	case p.PreviewStill:
		args = append(args, "-loop", "1", "-i", p.Preview)
		filter = mainChain +
			"[1:v]scale=320:180,format=yuv420p[pip];" +
			"[main][pip]overlay=W-w-40:H-h-40:shortest=1[ovr];" +
			"[ovr]" + draw + "[vout]"
	default:
		args = append(args, "-i", p.Preview)
		filter = mainChain +
			fmt.Sprintf("[1:v]trim=end=%d,setpts=PTS-STARTPTS,scale=320:180,format=yuv420p[pip];", PreviewSeconds) +
			"[main][pip]overlay=W-w-40:H-h-40[ovr];" +
			"[ovr]" + draw + "[vout]"
	}

	args = append(args,
		"-filter_complex", filter,
		"-map", "[vout]", "-map", "0:a",
		"-c:v", "libx264", "-c:a", "aac",
	)
	if p.Duration > 0 {
		args = append(args, "-t", strconv.FormatFloat(p.Duration, 'f', 3, 64))
	}
	return append(args, "-r", strconv.Itoa(TargetFPS), "-shortest", out)
}

func frameArgs(in, out string, offset float64) []string {
	if offset < 0 {
		offset = 0
	}
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", in,
		"-frames:v", "1", "-q:v", "2",
		out,
	}
}

func concatArgs(list, out string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c", "copy",
		out,
	}
}

// sidecarPath derives an intermediate path next to out, e.g.
// title_<id>.mp4 -> title_<id>.base.mp4
func sidecarPath(out, suffix string) string {
	ext := ".mp4"
	if i := strings.LastIndex(out, "."); i > strings.LastIndex(out, "/") {
		ext = out[i:]
		out = out[:i]
	}
	return out + "." + suffix + ext
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
