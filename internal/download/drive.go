package download

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	driveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
)

// DriveFileID extracts the file id from a Google Drive share link. It
// returns "" for anything that is not a drive.google.com link.
func DriveFileID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || !strings.EqualFold(u.Hostname(), "drive.google.com") {
		return ""
	}
	if m := driveFilePath.FindStringSubmatch(u.Path); len(m) > 1 {
		return m[1]
	}
	if m := driveIDParam.FindStringSubmatch("?" + u.RawQuery); len(m) > 1 {
		return m[1]
	}
	return ""
}

// ResolveURL rewrites Drive share links to their direct download form and
// returns every other URL unchanged
func ResolveURL(rawURL string) string {
	if id := DriveFileID(rawURL); id != "" {
		return "https://drive.google.com/uc?export=download&id=" + id
	}
	return rawURL
}
