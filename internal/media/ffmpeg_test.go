package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// fakeRunner records invocations and delegates outcomes to run
type fakeRunner struct {
	calls [][]string
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// writesOutput simulates ffmpeg producing its final positional argument
func writesOutput(t *testing.T) func(context.Context, string, ...string) (commandResult, error) {
	return func(_ context.Context, _ string, args ...string) (commandResult, error) {
		mustWriteFile(t, args[len(args)-1], "media")
		return commandResult{}, nil
	}
}

func mustWriteFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestRunReencodeBuildsTargetFormat(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: writesOutput(t)}
	enc := newFFmpeg("ffmpeg-custom", "", Assets{}, runner, nil)

	out := filepath.Join(dir, "norm_job_1.mp4")
	got, err := enc.Run(context.Background(), Request{Op: OpReencode, Inputs: []string{"in.mp4"}, Output: out})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != out {
		t.Fatalf("Run() = %q, want %q", got, out)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "ffmpeg-custom" {
		t.Fatalf("calls = %v", runner.calls)
	}
	args := runner.calls[0][1:]
	if vf := argValue(args, "-vf"); !strings.Contains(vf, "scale=1280:720") || !strings.Contains(vf, "fps=30") {
		t.Errorf("-vf = %q", vf)
	}
	if argValue(args, "-ar") != "48000" || argValue(args, "-ac") != "2" || argValue(args, "-c:a") != "aac" {
		t.Errorf("audio args = %v", args)
	}
	if argValue(args, "-i") != "in.mp4" || args[len(args)-1] != out {
		t.Errorf("input/output args = %v", args)
	}
}

func TestGenerateTitleRunsThreePassesAndRemovesIntermediates(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: writesOutput(t)}
	enc := newFFmpeg("ffmpeg", "", Assets{
		TemplateImage: "template.png",
		MaskImage:     "mask.png",
		TitleFontFile: "bold.ttf",
	}, runner, nil)

	out := filepath.Join(dir, "title_job.mp4")
	if _, err := enc.Run(context.Background(), Request{
		Op:     OpGenerateTitle,
		Inputs: []string{"clip2.mp4"},
		Output: out,
		Params: Params{Label: "ana maria souza"},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(runner.calls) != 3 {
		t.Fatalf("ffmpeg calls = %d, want 3", len(runner.calls))
	}
	if !strings.Contains(strings.Join(runner.calls[0], " "), "template.png") {
		t.Errorf("base pass = %v", runner.calls[0])
	}
	overlay := strings.Join(runner.calls[1], " ")
	if !strings.Contains(overlay, "clip2.mp4") || !strings.Contains(overlay, "alphamerge") || !strings.Contains(overlay, "overlay=100:488") {
		t.Errorf("overlay pass = %v", runner.calls[1])
	}
	text := argValue(runner.calls[2], "-vf")
	if !strings.Contains(text, "text='Ana'") || !strings.Contains(text, "fontfile=bold.ttf") {
		t.Errorf("text pass -vf = %q", text)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "title_job.mp4" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("dir contents = %v, want only the title clip", names)
	}
}

func TestComposeSegmentPreviewModes(t *testing.T) {
	tests := []struct {
		name     string
		params   Params
		inputs   int
		contains []string
		absent   []string
	}{
		{
			name:     "last clip without preview",
			params:   Params{Label: "Ana"},
			inputs:   1,
			contains: []string{"text='Ana'", "x=20:y=20"},
			absent:   []string{"overlay"},
		},
		{
			name:     "live preview",
			params:   Params{Label: "Lisa", Preview: "next.mp4", Duration: 12.5},
			inputs:   2,
			contains: []string{"trim=end=5", "scale=320:180", "overlay=W-w-40:H-h-40", "text='Lisa'"},
		},
		{
			name:     "still preview",
			params:   Params{Label: "Lisa", Preview: "next.jpg", PreviewStill: true},
			inputs:   2,
			contains: []string{"scale=320:180", "shortest=1"},
			absent:   []string{"trim="},
		},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		runner := &fakeRunner{run: writesOutput(t)}
		enc := newFFmpeg("ffmpeg", "", Assets{FontFile: "regular.ttf"}, runner, nil)

		out := filepath.Join(dir, "seg.mp4")
		if _, err := enc.Run(context.Background(), Request{Op: OpComposeSegment, Inputs: []string{"main.mp4"}, Output: out, Params: tt.params}); err != nil {
			t.Fatalf("%s: Run() error = %v", tt.name, err)
		}
		args := runner.calls[0][1:]
		inputs := 0
		for _, a := range args {
			if a == "-i" {
				inputs++
			}
		}
		if inputs != tt.inputs {
			t.Errorf("%s: %d inputs, want %d", tt.name, inputs, tt.inputs)
		}
		filter := argValue(args, "-filter_complex")
		for _, want := range tt.contains {
			if !strings.Contains(filter, want) {
				t.Errorf("%s: filter %q missing %q", tt.name, filter, want)
			}
		}
		for _, unwanted := range tt.absent {
			if strings.Contains(filter, unwanted) {
				t.Errorf("%s: filter %q should not contain %q", tt.name, filter, unwanted)
			}
		}
		if tt.params.Duration > 0 && argValue(args, "-t") != "12.500" {
			t.Errorf("%s: -t = %q", tt.name, argValue(args, "-t"))
		}
	}
}

func TestRunMapsDeadlineToTimeout(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{ExitCode: -1}, errors.New("signal: killed")
	}}
	enc := newFFmpeg("ffmpeg", "", Assets{}, runner, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := enc.Run(ctx, Request{Op: OpReencode, Inputs: []string{"in.mp4"}, Output: filepath.Join(t.TempDir(), "o.mp4")})
	if !errors.Is(err, types.ErrTimeout) {
		t.Fatalf("Run() error = %v, want timeout", err)
	}
	if types.KindOf(err) != types.KindTimeout {
		t.Fatalf("KindOf = %s", types.KindOf(err))
	}
}

func TestRunReportsProcessError(t *testing.T) {
	runner := &fakeRunner{run: func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{Stderr: "in.mp4: Invalid data found when processing input\n", ExitCode: 1}, errors.New("exit status 1")
	}}
	enc := newFFmpeg("ffmpeg", "", Assets{}, runner, nil)

	_, err := enc.Run(context.Background(), Request{Op: OpReencode, Inputs: []string{"in.mp4"}, Output: filepath.Join(t.TempDir(), "o.mp4")})
	var procErr *types.ProcessError
	if !errors.As(err, &procErr) {
		t.Fatalf("Run() error = %v, want ProcessError", err)
	}
	if procErr.ExitCode != 1 || !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("ProcessError = %+v", procErr)
	}
	if !strings.HasPrefix(err.Error(), "reencode: ") {
		t.Errorf("error = %q, want operation prefix", err)
	}
}

func TestRunRejectsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{run: func(_ context.Context, _ string, args ...string) (commandResult, error) {
		mustWriteFile(t, args[len(args)-1], "")
		return commandResult{}, nil
	}}
	enc := newFFmpeg("ffmpeg", "", Assets{}, runner, nil)

	_, err := enc.Run(context.Background(), Request{Op: OpConcatenate, Inputs: []string{"list.txt"}, Output: filepath.Join(dir, "out.mp4")})
	if !errors.Is(err, types.ErrProcess) {
		t.Fatalf("Run() error = %v, want process error", err)
	}
}

func TestRunValidatesRequest(t *testing.T) {
	enc := newFFmpeg("ffmpeg", "", Assets{}, &fakeRunner{}, nil)
	tests := []Request{
		{Op: OpReencode, Output: "o.mp4"},
		{Op: OpReencode, Inputs: []string{"a"}},
		{Op: "upscale", Inputs: []string{"a"}, Output: "o.mp4"},
	}
	for _, req := range tests {
		if _, err := enc.Run(context.Background(), req); err == nil {
			t.Errorf("Run(%+v) expected error", req)
		}
	}
}

func TestDuration(t *testing.T) {
	runner := &fakeRunner{run: func(_ context.Context, name string, _ ...string) (commandResult, error) {
		if name != "ffprobe-custom" {
			t.Fatalf("probe binary = %q", name)
		}
		return commandResult{Stdout: "12.345000\n"}, nil
	}}
	enc := newFFmpeg("ffmpeg", "ffprobe-custom", Assets{}, runner, nil)

	got, err := enc.Duration(context.Background(), "clip.mp4")
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if got != 12.345 {
		t.Fatalf("Duration() = %v, want 12.345", got)
	}

	runner.run = func(context.Context, string, ...string) (commandResult, error) {
		return commandResult{Stdout: "N/A\n"}, nil
	}
	if _, err := enc.Duration(context.Background(), "clip.mp4"); err == nil {
		t.Fatal("expected error for N/A duration")
	}
}

func TestCheckAssets(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "template.png")
	mustWriteFile(t, template, "png")

	enc := newFFmpeg("ffmpeg", "", Assets{TemplateImage: template}, &fakeRunner{}, nil)
	if err := enc.CheckAssets(); err != nil {
		t.Fatalf("CheckAssets() error = %v", err)
	}
	enc = newFFmpeg("ffmpeg", "", Assets{TemplateImage: template, MaskImage: filepath.Join(dir, "mask.png")}, &fakeRunner{}, nil)
	if err := enc.CheckAssets(); err == nil || !strings.Contains(err.Error(), "mask.png") {
		t.Fatalf("CheckAssets() = %v, want missing mask", err)
	}
}
