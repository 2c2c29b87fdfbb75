package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/codebuildervaibhav/interview-render/internal/logging"
	"github.com/codebuildervaibhav/interview-render/internal/types"
)

const (
	defaultUserAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultAttempts   = 3
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
	connectTimeout    = 10 * time.Second
	responseHeaderTTL = 15 * time.Second
)

// HTTPError is a non-200 response from a source host
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %s", e.URL, e.Status)
}

// Unwrap marks HTTP failures as transport errors
func (e *HTTPError) Unwrap() error { return types.ErrTransport }

// retryable reports whether the host might answer differently later
func (e *HTTPError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Downloader fetches source clips over HTTP(S)
type Downloader struct {
	client    *http.Client
	userAgent string
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    *slog.Logger
}

// Option configures a Downloader
type Option func(*Downloader)

// WithHTTPClient replaces the default client
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetry overrides the attempt count and backoff delays
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(d *Downloader) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if baseDelay > 0 {
			d.baseDelay = baseDelay
		}
		if maxDelay > 0 {
			d.maxDelay = maxDelay
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Downloader
func New(opts ...Option) *Downloader {
	d := &Downloader{
		client:    &http.Client{Transport: newTransport(connectTimeout)},
		userAgent: defaultUserAgent,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// newTransport bounds the TCP dial and the TLS handshake by connect, and
// the wait for response headers by responseHeaderTTL
func newTransport(connect time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   connect,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = connect
	transport.ResponseHeaderTimeout = responseHeaderTTL
	return transport
}

// Fetch downloads rawURL into dest and returns the number of bytes
// written. The deadline in ctx bounds every attempt together. On failure
// no file is left at dest.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	if resolved := ResolveURL(rawURL); resolved != rawURL {
		d.logger.Debug("resolved drive share link", slog.String("url", rawURL), slog.String("direct", resolved))
		rawURL = resolved
	}
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		n, err := d.fetchOnce(ctx, rawURL, dest)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !d.shouldRetry(ctx, err) || attempt == d.attempts {
			break
		}

		delay := d.baseDelay << (attempt - 1)
		if delay > d.maxDelay {
			delay = d.maxDelay
		}
		d.logger.Warn("download attempt failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, d.classify(ctx, rawURL, ctx.Err())
		}
	}
	return 0, lastErr
}

func (d *Downloader) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.retryable()
	}
	return errors.Is(err, types.ErrTransport)
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL, dest string) (n int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, types.Wrap(types.ErrTransport, "", "fetch", rawURL, err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, d.classify(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: rawURL}
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dest, closeErr)
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	n, err = io.Copy(file, resp.Body)
	if err != nil {
		return 0, d.classify(ctx, rawURL, err)
	}
	if n == 0 {
		return 0, types.Wrap(types.ErrTransport, "", "fetch", rawURL, errors.New("empty response body"))
	}
	return n, nil
}

func (d *Downloader) classify(ctx context.Context, rawURL string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return types.Wrap(types.ErrTimeout, "", "fetch", rawURL, err)
	}
	return types.Wrap(types.ErrTransport, "", "fetch", rawURL, err)
}

// ValidateURLs checks that every reference is an absolute http(s) URL
func ValidateURLs(refs []string) error {
	var invalid []string
	for _, ref := range refs {
		if !isFetchable(ref) {
			invalid = append(invalid, ref)
		}
	}
	if len(invalid) > 0 {
		return &types.ValidationError{Message: "invalid video URLs", Invalid: invalid}
	}
	return nil
}

func isFetchable(ref string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
