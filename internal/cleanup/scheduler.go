package cleanup

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/storage"
)

// ActiveJobs reports the ids whose workspaces must not be touched
type ActiveJobs interface {
	ActiveJobIDs() map[string]struct{}
}

// Result summarizes one sweep
type Result struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
	Skipped    int   `json:"skipped_live"`
}

// Scheduler periodically removes work dir entries left behind by jobs
// that are no longer running, e.g. after a crash.
type Scheduler struct {
	workDir  string
	jobs     ActiveJobs
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(workDir string, jobs ActiveJobs, intervalMinutes, maxAgeHours int, logger *slog.Logger) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = 30
	}
	if maxAgeHours <= 0 {
		maxAgeHours = 24
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		workDir:  workDir,
		jobs:     jobs,
		interval: time.Duration(intervalMinutes) * time.Minute,
		maxAge:   time.Duration(maxAgeHours) * time.Hour,
		logger:   logger.With(slog.String("component", "cleanup")),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval
func (s *Scheduler) Start() {
	s.SweepOrphans(s.maxAge)

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.SweepOrphans(s.maxAge)
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	s.logger.Info("cleanup scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("max_age", s.maxAge))
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info("cleanup scheduler stopped")
	})
}

// SweepOrphans removes every top-level work dir entry that does not belong
// to a live job and is older than maxAge. A maxAge of zero removes all
// orphans regardless of age.
func (s *Scheduler) SweepOrphans(maxAge time.Duration) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Result
	entries, err := os.ReadDir(s.workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read work dir", slog.String("dir", s.workDir), slog.String("error", err.Error()))
		}
		return res
	}

	live := s.jobs.ActiveJobIDs()
	cutoff := s.now().Add(-maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if name == storage.LockFileName {
			continue
		}
		if _, ok := live[name]; ok {
			res.Skipped++
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if maxAge > 0 && info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.workDir, name)
		size := entrySize(path, info)
		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove orphan", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		res.Removed++
		res.FreedBytes += size
		s.logger.Debug("removed orphan",
			slog.String("entry", name),
			slog.Duration("age", s.now().Sub(info.ModTime()).Round(time.Second)))
	}

	if res.Removed > 0 {
		s.logger.Info("cleanup complete",
			slog.Int("removed", res.Removed),
			slog.Float64("freed_mb", float64(res.FreedBytes)/(1024*1024)),
			slog.Int("skipped_live", res.Skipped))
	}
	return res
}

func entrySize(path string, info fs.FileInfo) int64 {
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if fi, err := d.Info(); err == nil && !d.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// EnsureWorkDir creates the work directory if it doesn't exist
func EnsureWorkDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
