package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/interview-render/internal/types"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status types.Status) string {
	switch status {
	case types.StatusDone:
		return ansiGreen
	case types.StatusFailed:
		return ansiRed
	case types.StatusDownloading, types.StatusProcessing:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func formatStatus(status types.Status, colorize bool) string {
	if !colorize {
		return string(status)
	}
	return statusColor(status) + string(status) + ansiReset
}
