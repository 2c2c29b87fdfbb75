package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// characters that would break out of a drawtext option value
var unsafeText = strings.NewReplacer(`'`, "", `"`, "", `\`, "", ":", "", ";", "", "%", "")

// SanitizeText strips characters that drawtext treats as syntax
func SanitizeText(s string) string {
	return strings.TrimSpace(unsafeText.Replace(s))
}

// TitleText is the name shown on the opening clip: the first word of the
// candidate label, sanitized and title-cased.
func TitleText(label string) string {
	fields := strings.Fields(label)
	if len(fields) == 0 {
		return ""
	}
	first := SanitizeText(fields[0])
	return cases.Title(language.Und).String(strings.ToLower(first))
}

// WriteConcatList writes an ffmpeg concat demuxer list naming each file in
// order. Paths are made absolute so the list can live anywhere.
func WriteConcatList(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f, err)
		}
		abs = filepath.ToSlash(abs)
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}
