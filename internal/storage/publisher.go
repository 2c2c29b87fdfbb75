package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Publisher copies a finished render somewhere outside this host
type Publisher interface {
	Name() string
	Publish(ctx context.Context, jobID, localPath string) (string, error)
}

// RetryPolicy bounds PublishWithRetry
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy makes three attempts with growing delays
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

// PublishWithRetry calls p until it succeeds, attempts run out or ctx ends
func PublishWithRetry(ctx context.Context, p Publisher, policy RetryPolicy, jobID, localPath string, logger *slog.Logger) (string, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		url, err := p.Publish(ctx, jobID, localPath)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if logger != nil {
			logger.Warn("publish attempt failed",
				slog.String("publisher", p.Name()),
				slog.String("job_id", jobID),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", policy.Attempts),
				slog.String("error", err.Error()))
		}
		if attempt == policy.Attempts {
			break
		}

		backoff := policy.BaseDelay << (attempt - 1)
		if policy.MaxDelay > 0 && backoff > policy.MaxDelay {
			backoff = policy.MaxDelay
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", errors.Join(fmt.Errorf("publish to %s canceled", p.Name()), ctx.Err())
		}
	}
	return "", fmt.Errorf("publish to %s failed after %d attempts: %w", p.Name(), policy.Attempts, lastErr)
}
