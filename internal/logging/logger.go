package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Options describes logger construction parameters
type Options struct {
	Level  string
	Format string // text, json or auto
	Output io.Writer
	Buffer *LogBuffer
}

// New constructs a slog logger writing to Output and, when set, Buffer
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	writer := out
	if opts.Buffer != nil {
		writer = io.MultiWriter(out, opts.Buffer)
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" || format == "auto" {
		format = "json"
		if isTerminal(out) {
			format = "text"
		}
	}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(writer, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(writer, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewNop returns a logger that discards everything
func NewNop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// LogBuffer captures recent log lines in memory
type LogBuffer struct {
	lines []string
	limit int
	mu    sync.Mutex
}

// NewLogBuffer keeps at most limit lines
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = 1000
	}
	return &LogBuffer{
		lines: make([]string, 0, limit),
		limit: limit,
	}
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, strings.TrimRight(string(p), "\n"))
	if len(lb.lines) > lb.limit {
		lb.lines = lb.lines[len(lb.lines)-lb.limit:]
	}
	return len(p), nil
}

// GetLogs returns a copy of the buffered lines, oldest first
func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}
