package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/media"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// Stage labels reported through the tracker
const (
	StageDownload    = "download"
	StageTitle       = "title"
	StageNormalize   = "normalize"
	StageCompose     = "compose"
	StageConcatenate = "concatenate"
	StageFinalize    = "finalize"
)

// Preview modes for composed segments
const (
	PreviewLive  = "live"
	PreviewStill = "still"
)

// Fetcher downloads one source clip
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) (int64, error)
}

// Prober reports clip durations in seconds
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Finalizer moves a finished render into durable storage
type Finalizer interface {
	Finalize(src, jobID string) (string, error)
}

// Ledger records finished renders
type Ledger interface {
	SaveRender(ctx context.Context, rec storage.RenderRecord) error
	DeleteRender(ctx context.Context, jobID string) error
}

// Timeouts bound each stage invocation
type Timeouts struct {
	Download  time.Duration
	Title     time.Duration
	Normalize time.Duration
	Frame     time.Duration
	Segment   time.Duration
	Concat    time.Duration
}

// DefaultTimeouts are used for any stage left at zero
var DefaultTimeouts = Timeouts{
	Download:  60 * time.Second,
	Title:     2 * time.Minute,
	Normalize: 5 * time.Minute,
	Frame:     30 * time.Second,
	Segment:   20 * time.Minute,
	Concat:    10 * time.Minute,
}

func (t Timeouts) withDefaults() Timeouts {
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.Download, DefaultTimeouts.Download)
	fill(&t.Title, DefaultTimeouts.Title)
	fill(&t.Normalize, DefaultTimeouts.Normalize)
	fill(&t.Frame, DefaultTimeouts.Frame)
	fill(&t.Segment, DefaultTimeouts.Segment)
	fill(&t.Concat, DefaultTimeouts.Concat)
	return t
}

// Config holds pipeline settings
type Config struct {
	WorkDir          string
	InterviewerLabel string
	PreviewMode      string
	Timeouts         Timeouts
	PublishRetry     storage.RetryPolicy
}

// Deps are the collaborators a Pipeline drives. Prober, Ledger and
// Publishers are optional.
type Deps struct {
	Fetcher    Fetcher
	Encoder    media.Encoder
	Prober     Prober
	Output     Finalizer
	Ledger     Ledger
	Publishers []storage.Publisher
	Logger     *slog.Logger
}

// Pipeline renders one interview from its source clips
type Pipeline struct {
	cfg        Config
	fetcher    Fetcher
	encoder    media.Encoder
	prober     Prober
	output     Finalizer
	ledger     Ledger
	publishers []storage.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New validates cfg and deps and builds a Pipeline
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Fetcher == nil || deps.Encoder == nil || deps.Output == nil {
		return nil, errors.New("pipeline requires a fetcher, an encoder and an output store")
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("pipeline work dir is required")
	}
	if cfg.InterviewerLabel == "" {
		cfg.InterviewerLabel = "Lisa"
	}
	switch cfg.PreviewMode {
	case "":
		cfg.PreviewMode = PreviewLive
	case PreviewLive, PreviewStill:
	default:
		return nil, fmt.Errorf("unknown preview mode %q", cfg.PreviewMode)
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	if cfg.PublishRetry.Attempts == 0 {
		cfg.PublishRetry = storage.DefaultRetryPolicy
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		encoder:    deps.Encoder,
		prober:     deps.Prober,
		output:     deps.Output,
		ledger:     deps.Ledger,
		publishers: deps.Publishers,
		logger:     deps.Logger.With(slog.String("component", "pipeline")),
		now:        time.Now,
	}, nil
}

// Run drives entry through every stage and returns the finalized output
// path. Whatever happens, the job's workspace is removed before Run
// returns.
func (p *Pipeline) Run(ctx context.Context, entry types.QueueEntry, tracker types.Tracker) (string, error) {
	start := p.now()
	logger := p.logger.With(slog.String("job_id", entry.JobID))

	ws, err := newWorkspace(p.cfg.WorkDir, entry.JobID, logger)
	if err != nil {
		return "", types.Wrap(types.ErrProcess, StageDownload, "workspace", "", err)
	}
	defer ws.Cleanup()

	tracker.SetStage(entry.JobID, StageDownload)
	inputs, err := p.download(ctx, ws, entry.InputRefs, logger)
	if err != nil {
		return "", err
	}
	if err := tracker.MarkProcessing(entry.JobID); err != nil {
		return "", fmt.Errorf("start processing: %w", err)
	}

	tracker.SetStage(entry.JobID, StageTitle)
	title, err := p.title(ctx, ws, inputs, entry.CandidateLabel)
	if err != nil {
		return "", err
	}

	tracker.SetStage(entry.JobID, StageNormalize)
	clips, err := p.normalize(ctx, ws, inputs)
	if err != nil {
		return "", err
	}

	tracker.SetStage(entry.JobID, StageCompose)
	segments, err := p.compose(ctx, ws, clips, entry.CandidateLabel, logger)
	if err != nil {
		return "", err
	}

	tracker.SetStage(entry.JobID, StageConcatenate)
	rendered, err := p.concatenate(ctx, ws, append([]string{title}, segments...))
	if err != nil {
		return "", err
	}

	tracker.SetStage(entry.JobID, StageFinalize)
	return p.finalize(ctx, entry, rendered, tracker, start, logger)
}

// withDeadline runs fn under its own timeout. A stage that fails because
// its own deadline passed is reported as a timeout even when the
// collaborator returned a bare context error.
func withDeadline(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(sctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) && !errors.Is(err, types.ErrTimeout) {
		return types.Wrap(types.ErrTimeout, "", "", fmt.Sprintf("deadline of %s exceeded", timeout), err)
	}
	return err
}

func stageError(stage string, err error) error {
	return fmt.Errorf("%s: %w", stage, err)
}

// download fetches every input concurrently; the first failure cancels
// the rest
func (p *Pipeline) download(ctx context.Context, ws *Workspace, refs []string, logger *slog.Logger) ([]string, error) {
	paths := make([]string, len(refs))
	for i := range refs {
		paths[i] = ws.Artifact("input", i+1, ".mp4")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			return withDeadline(gctx, p.cfg.Timeouts.Download, func(dctx context.Context) error {
				n, err := p.fetcher.Fetch(dctx, ref, paths[i])
				if err != nil {
					return fmt.Errorf("input %d: %w", i+1, err)
				}
				if n == 0 {
					return types.Wrap(types.ErrTransport, "", "", fmt.Sprintf("input %d: empty download", i+1), nil)
				}
				logger.Debug("input downloaded", slog.Int("input", i+1), slog.Int64("bytes", n))
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stageError(StageDownload, err)
	}

	for i, path := range paths {
		info, err := os.Stat(path)
		if err != nil || info.Size() == 0 {
			return nil, stageError(StageDownload, types.Wrap(types.ErrTransport, "", "", fmt.Sprintf("input %d missing or empty after download", i+1), err))
		}
	}
	logger.Info("inputs downloaded", slog.Int("count", len(paths)))
	return paths, nil
}

func (p *Pipeline) title(ctx context.Context, ws *Workspace, inputs []string, candidate string) (string, error) {
	out := ws.Artifact("title", 0, ".mp4")
	err := withDeadline(ctx, p.cfg.Timeouts.Title, func(tctx context.Context) error {
		_, err := p.encoder.Run(tctx, media.Request{
			Op:     media.OpGenerateTitle,
			Inputs: []string{inputs[TitleClip(len(inputs))]},
			Output: out,
			Params: media.Params{Label: candidate},
		})
		return err
	})
	if err != nil {
		return "", stageError(StageTitle, err)
	}
	return out, nil
}

func (p *Pipeline) normalize(ctx context.Context, ws *Workspace, inputs []string) ([]string, error) {
	clips := make([]string, len(inputs))
	for i, in := range inputs {
		out := ws.Artifact("norm", i+1, ".mp4")
		err := withDeadline(ctx, p.cfg.Timeouts.Normalize, func(nctx context.Context) error {
			_, err := p.encoder.Run(nctx, media.Request{Op: media.OpReencode, Inputs: []string{in}, Output: out})
			return err
		})
		if err != nil {
			return nil, stageError(StageNormalize, fmt.Errorf("clip %d: %w", i+1, err))
		}
		clips[i] = out
	}
	return clips, nil
}

func (p *Pipeline) compose(ctx context.Context, ws *Workspace, clips []string, candidate string, logger *slog.Logger) ([]string, error) {
	plan := PlanSegments(len(clips), p.cfg.InterviewerLabel, candidate)
	segments := make([]string, 0, len(plan))

	for _, seg := range plan {
		params := media.Params{Label: seg.Label}
		if seg.HasPreview() {
			params.Duration = p.duration(ctx, clips[seg.Position], logger)
			params.Preview = clips[seg.Preview]

			if p.cfg.PreviewMode == PreviewStill {
				frame, err := p.extractFrame(ctx, ws, clips[seg.Preview], seg.Position+1, logger)
				if err != nil {
					return nil, stageError(StageCompose, fmt.Errorf("segment %d: %w", seg.Position+1, err))
				}
				params.Preview = frame
				params.PreviewStill = true
			}
		}

		out := ws.Artifact("seg", seg.Position+1, ".mp4")
		err := withDeadline(ctx, p.cfg.Timeouts.Segment, func(sctx context.Context) error {
			_, err := p.encoder.Run(sctx, media.Request{
				Op:     media.OpComposeSegment,
				Inputs: []string{clips[seg.Position]},
				Output: out,
				Params: params,
			})
			return err
		})
		if err != nil {
			return nil, stageError(StageCompose, fmt.Errorf("segment %d: %w", seg.Position+1, err))
		}
		segments = append(segments, out)
	}
	return segments, nil
}

func (p *Pipeline) extractFrame(ctx context.Context, ws *Workspace, clip string, index int, logger *slog.Logger) (string, error) {
	out := ws.Artifact("frame", index, ".jpg")
	offset := stillOffset(p.duration(ctx, clip, logger))
	err := withDeadline(ctx, p.cfg.Timeouts.Frame, func(fctx context.Context) error {
		_, err := p.encoder.Run(fctx, media.Request{
			Op:     media.OpExtractFrame,
			Inputs: []string{clip},
			Output: out,
			Params: media.Params{Offset: offset},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// duration probes clip length; zero means unknown and is never fatal
func (p *Pipeline) duration(ctx context.Context, clip string, logger *slog.Logger) float64 {
	if p.prober == nil {
		return 0
	}
	var seconds float64
	err := withDeadline(ctx, p.cfg.Timeouts.Frame, func(pctx context.Context) error {
		var err error
		seconds, err = p.prober.Duration(pctx, clip)
		return err
	})
	if err != nil {
		logger.Debug("duration probe failed", slog.String("clip", clip), slog.String("error", err.Error()))
		return 0
	}
	return seconds
}

func (p *Pipeline) concatenate(ctx context.Context, ws *Workspace, parts []string) (string, error) {
	list := ws.Artifact("list", 0, ".txt")
	if err := media.WriteConcatList(list, parts); err != nil {
		return "", stageError(StageConcatenate, err)
	}

	out := ws.Artifact("output", 0, ".mp4")
	err := withDeadline(ctx, p.cfg.Timeouts.Concat, func(cctx context.Context) error {
		_, err := p.encoder.Run(cctx, media.Request{Op: media.OpConcatenate, Inputs: []string{list}, Output: out})
		return err
	})
	if err != nil {
		return "", stageError(StageConcatenate, err)
	}
	return out, nil
}

// finalize moves the render out of the workspace, publishes copies and
// writes the ledger row. Publishing and ledger failures are logged only.
func (p *Pipeline) finalize(ctx context.Context, entry types.QueueEntry, rendered string, tracker types.Tracker, start time.Time, logger *slog.Logger) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", stageError(StageFinalize, err)
	}
	out, err := p.output.Finalize(rendered, entry.JobID)
	if err != nil {
		return "", stageError(StageFinalize, types.Wrap(types.ErrProcess, "", "move output", "", err))
	}

	var published []string
	for _, pub := range p.publishers {
		url, err := storage.PublishWithRetry(ctx, pub, p.cfg.PublishRetry, entry.JobID, out, logger)
		if err != nil {
			logger.Warn("publish failed, keeping local output only",
				slog.String("publisher", pub.Name()),
				slog.String("error", err.Error()))
			continue
		}
		published = append(published, url)
		tracker.AddPublished(entry.JobID, url)
	}

	if p.ledger != nil {
		rec := storage.RenderRecord{
			JobID:          entry.JobID,
			CandidateLabel: entry.CandidateLabel,
			Process:        entry.Process,
			ExternalRef:    entry.ExternalRef,
			OutputPath:     out,
			PublishedURLs:  published,
			InputCount:     len(entry.InputRefs),
			RenderSeconds:  p.now().Sub(start).Seconds(),
			CreatedAt:      p.now(),
		}
		if info, err := os.Stat(out); err == nil {
			rec.SizeBytes = info.Size()
		}
		if err := p.ledger.SaveRender(ctx, rec); err != nil {
			logger.Warn("ledger save failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("render finalized",
		slog.String("output", out),
		slog.Int("published", len(published)),
		slog.Duration("elapsed", p.now().Sub(start)))
	return out, nil
}

// Discard drops the ledger row of a render whose completion was rejected,
// so the ledger never lists an output that was removed
func (p *Pipeline) Discard(ctx context.Context, jobID, _ string) error {
	if p.ledger == nil {
		return nil
	}
	return p.ledger.DeleteRender(ctx, jobID)
}
