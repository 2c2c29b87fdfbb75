package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

func TestNewAutoUsesJSONForNonTerminal(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "auto", Output: &out})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("job admitted", slog.String("job_id", "abc"))

	var entry map[string]any
	if err := json.Unmarshal(out.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", out.String(), err)
	}
	if entry["job_id"] != "abc" || entry["msg"] != "job admitted" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNewWritesToBuffer(t *testing.T) {
	var out bytes.Buffer
	buf := NewLogBuffer(10)
	logger, err := New(Options{Level: "debug", Format: "text", Output: &out, Buffer: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("slot released")

	logs := buf.GetLogs()
	if len(logs) != 1 || !strings.Contains(logs[0], "slot released") {
		t.Fatalf("buffer = %v", logs)
	}
	if !strings.Contains(out.String(), "slot released") {
		t.Errorf("stdout writer missed line: %q", out.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml", Output: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLogBufferKeepsTail(t *testing.T) {
	buf := NewLogBuffer(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(buf, "line %d\n", i)
	}
	logs := buf.GetLogs()
	if len(logs) != 3 || logs[0] != "line 3" || logs[2] != "line 5" {
		t.Fatalf("GetLogs() = %v", logs)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
