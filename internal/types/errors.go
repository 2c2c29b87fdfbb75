package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrTimeout    = errors.New("timeout")
	ErrTransport  = errors.New("transport error")
	ErrProcess    = errors.New("process error")
	ErrStuckJob   = errors.New("stuck job")
	ErrNotFound   = errors.New("not found")
)

// Kind names an error class for API responses and logs
type Kind string

const (
	KindValidation Kind = "validation"
	KindTimeout    Kind = "timeout"
	KindTransport  Kind = "transport"
	KindProcess    Kind = "process"
	KindStuck      Kind = "stuck"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Wrap tags err with a marker and prefixes stage and operation context.
// The marker should be one of the sentinels above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrProcess
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf classifies err by the marker it carries
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrStuckJob):
		return KindStuck
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrProcess):
		return KindProcess
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// ProcessError carries the diagnostic output of a failed external tool
type ProcessError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap exposes ErrProcess and the underlying exec error
func (e *ProcessError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{ErrProcess}
	}
	return []error{ErrProcess, e.Err}
}

// ValidationError lists the problems found in a submission
type ValidationError struct {
	Message string
	Invalid []string
}

func (e *ValidationError) Error() string {
	if len(e.Invalid) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Invalid, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "job failure"
	}
	return strings.Join(parts, ": ")
}
