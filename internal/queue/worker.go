package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// Runner executes the render pipeline for one admitted job and returns
// the reference of the finalized output.
type Runner interface {
	Run(ctx context.Context, entry types.QueueEntry, tracker types.Tracker) (string, error)
}

// Discarder is implemented by runners that keep side records of a
// finished render. Discard is called when the store rejects a completion.
type Discarder interface {
	Discard(ctx context.Context, jobID, outputRef string) error
}

// RunnerFunc adapts a plain function to Runner
type RunnerFunc func(ctx context.Context, entry types.QueueEntry, tracker types.Tracker) (string, error)

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, entry types.QueueEntry, tracker types.Tracker) (string, error) {
	return f(ctx, entry, tracker)
}

// work runs one admitted job to a terminal state and gives its slot back
func (s *Scheduler) work(ctx context.Context, entry types.QueueEntry) {
	defer s.wg.Done()

	start := time.Now()
	logger := s.logger.With(slog.String("job_id", entry.JobID))
	logger.Info("job started", slog.Int("inputs", len(entry.InputRefs)))

	outputRef, err := s.runSafely(ctx, entry, logger)
	s.recordOutcome(entry.JobID, outputRef, err, logger, time.Since(start))

	if s.release(entry.JobID) {
		logger.Debug("slot released")
	}
	s.drain()
}

// runSafely turns a runner panic into a job failure
func (s *Scheduler) runSafely(ctx context.Context, entry types.QueueEntry, logger *slog.Logger) (outputRef string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("runner panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: worker panic: %v", types.ErrProcess, r)
		}
	}()
	return s.runner.Run(ctx, entry, s.store)
}

func (s *Scheduler) recordOutcome(jobID, outputRef string, runErr error, logger *slog.Logger, elapsed time.Duration) {
	if runErr != nil {
		if _, applied := s.store.Fail(jobID, runErr); applied {
			logger.Error("job failed",
				slog.String("error_kind", string(types.KindOf(runErr))),
				slog.String("error", runErr.Error()),
				slog.Duration("elapsed", elapsed))
		} else {
			logger.Debug("job already terminal, dropping runner error", slog.String("error", runErr.Error()))
		}
		return
	}

	if err := s.store.Complete(jobID, outputRef); err != nil {
		// the watchdog got there first; the output has no owner
		logger.Warn("completion rejected, removing output",
			slog.String("output", outputRef),
			slog.String("error", err.Error()))
		if rmErr := os.Remove(outputRef); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("failed to remove orphaned output", slog.String("error", rmErr.Error()))
		}
		if d, ok := s.runner.(Discarder); ok {
			if err := d.Discard(context.Background(), jobID, outputRef); err != nil {
				logger.Warn("failed to discard render records", slog.String("error", err.Error()))
			}
		}
		return
	}
	logger.Info("job completed",
		slog.String("output", outputRef),
		slog.Duration("elapsed", elapsed))
}
