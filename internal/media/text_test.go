package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTitleText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ana maria souza", "Ana"},
		{"  JOÃO  pedro", "João"},
		{"o'brien", "Obrien"},
		{`ed"ward: "x"`, "Edward"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TitleText(tt.in); got != tt.want {
			t.Errorf("TitleText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	if got := SanitizeText(` Ana 100%: "ok"; \n `); got != `Ana 100 ok n` {
		t.Fatalf("SanitizeText() = %q", got)
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.txt")
	files := []string{filepath.Join(dir, "title.mp4"), filepath.Join(dir, "it's.mp4")}

	if err := WriteConcatList(list, files); err != nil {
		t.Fatalf("WriteConcatList() error = %v", err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatalf("read list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if lines[0] != "file '"+filepath.ToSlash(files[0])+"'" {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s.mp4`) {
		t.Errorf("line 1 = %q, want escaped quote", lines[1])
	}
}
