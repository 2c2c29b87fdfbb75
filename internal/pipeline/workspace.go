package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is the per-job scratch directory. Every artifact path it hands
// out carries the job id, and Cleanup removes all of them.
type Workspace struct {
	dir    string
	jobID  string
	logger *slog.Logger

	mu        sync.Mutex
	artifacts []string
}

// JobDir is the working directory used for jobID under root
func JobDir(root, jobID string) string {
	return filepath.Join(root, jobID)
}

func newWorkspace(root, jobID string, logger *slog.Logger) (*Workspace, error) {
	dir := JobDir(root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{dir: dir, jobID: jobID, logger: logger}, nil
}

// Dir returns the workspace directory
func (w *Workspace) Dir() string { return w.dir }

// Artifact registers and returns the path for one temporary file, e.g.
// seg_<job>_2.mp4. An index of zero is omitted.
func (w *Workspace) Artifact(kind string, index int, ext string) string {
	name := fmt.Sprintf("%s_%s%s", kind, w.jobID, ext)
	if index > 0 {
		name = fmt.Sprintf("%s_%s_%d%s", kind, w.jobID, index, ext)
	}
	path := filepath.Join(w.dir, name)

	w.mu.Lock()
	w.artifacts = append(w.artifacts, path)
	w.mu.Unlock()
	return path
}

// Artifacts lists every path handed out so far
func (w *Workspace) Artifacts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.artifacts...)
}

// Cleanup deletes every artifact and then the directory itself. Failures
// are logged and never returned.
func (w *Workspace) Cleanup() int {
	removed := 0
	for _, path := range w.Artifacts() {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, os.ErrNotExist):
		default:
			w.logger.Warn("failed to remove artifact",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("failed to remove workspace",
			slog.String("dir", w.dir),
			slog.String("error", err.Error()))
	}
	w.logger.Debug("workspace cleaned", slog.Int("artifacts_removed", removed))
	return removed
}
