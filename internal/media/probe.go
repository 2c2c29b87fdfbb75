package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Duration returns the container duration of path in seconds
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	result, err := f.runner.Run(ctx, f.probe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, classify(ctx, f.probe, "probe", result, err)
	}

	raw := strings.TrimSpace(result.Stdout)
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("ffprobe returned no duration for %s", path)
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return seconds, nil
}
