package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Operation names one kind of encoder invocation
type Operation string

// Supported encoder operations
const (
	OpReencode       Operation = "reencode"
	OpGenerateTitle  Operation = "generate_title"
	OpComposeSegment Operation = "compose_segment"
	OpExtractFrame   Operation = "extract_frame"
	OpConcatenate    Operation = "concatenate"
)

// Request describes one encoder invocation. The deadline comes from ctx.
type Request struct {
	Op     Operation
	Inputs []string
	Output string
	Params Params
}

// Params carries per-operation settings. Fields an operation does not use
// are ignored.
type Params struct {
	// Label is the title text for generate_title and the speaker label
	// for compose_segment.
	Label string
	// Preview is the secondary clip or still frame overlaid by
	// compose_segment. Empty means no preview.
	Preview string
	// PreviewStill marks Preview as an image rather than a clip.
	PreviewStill bool
	// Duration caps the segment length in seconds; zero leaves it to the
	// primary clip.
	Duration float64
	// Offset is the seek position in seconds for extract_frame.
	Offset float64
}

// Encoder runs media operations and returns the path it wrote
type Encoder interface {
	Run(ctx context.Context, req Request) (string, error)
}

// commandResult is the captured outcome of one process run
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}
