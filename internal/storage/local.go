package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

// LocalStorage owns the durable output directory. Only finished renders
// live here, one file per job.
type LocalStorage struct {
	outputDir string
	logger    *slog.Logger

	// swappable for tests
	copyFile func(src, dst string) error
	rename   func(oldpath, newpath string) error
}

// NewLocalStorage creates the output directory if needed
func NewLocalStorage(outputDir string, logger *slog.Logger) (*LocalStorage, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalStorage{
		outputDir: outputDir,
		logger:    logger,
		copyFile:  copyFile,
		rename:    os.Rename,
	}, nil
}

// Dir returns the output directory
func (ls *LocalStorage) Dir() string { return ls.outputDir }

// OutputPath is where the finished render for jobID lives
func (ls *LocalStorage) OutputPath(jobID string) string {
	return filepath.Join(ls.outputDir, fmt.Sprintf("video_%s.mp4", jobID))
}

// Finalize moves a rendered file out of the working area into the output
// directory. It copies then deletes the source, and falls back to a
// rename when the copy cannot be made.
func (ls *LocalStorage) Finalize(src, jobID string) (string, error) {
	dst := ls.OutputPath(jobID)
	staging := dst + ".partial"

	copyErr := ls.copyFile(src, staging)
	if copyErr == nil {
		if err := ls.rename(staging, dst); err != nil {
			_ = os.Remove(staging)
			return "", fmt.Errorf("failed to publish output: %w", err)
		}
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			ls.logger.Warn("failed to remove rendered source after copy",
				slog.String("job_id", jobID),
				slog.String("path", src),
				slog.String("error", err.Error()))
		}
		return dst, nil
	}

	_ = os.Remove(staging)
	ls.logger.Warn("copy to output failed, falling back to rename",
		slog.String("job_id", jobID),
		slog.String("error", copyErr.Error()))

	if err := ls.rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move output into place: %w", err)
	}
	return dst, nil
}

// Lookup returns the finished render for jobID
func (ls *LocalStorage) Lookup(jobID string) (string, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return "", fmt.Errorf("job %q: %w", jobID, types.ErrNotFound)
	}
	path := ls.OutputPath(jobID)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("output for job %s: %w", jobID, types.ErrNotFound)
	}
	return path, nil
}

// copyFile streams src to dst with 0o644 permissions
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
