package modidx

import (
	"fmt"
	"net/url"
	"strings"
)

// DownloadMeta describes where a mod download came from.
type DownloadMeta struct {
	URL    string
	Domain string
	ItemID string // last path segment; empty when the URL has no path
}

// ParseDownloadURL extracts the host and item identifier from a download link.
func ParseDownloadURL(raw string) (*DownloadMeta, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing download url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("download url has no host: %q", raw)
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return &DownloadMeta{
		URL:    raw,
		Domain: u.Host,
		ItemID: segments[len(segments)-1],
	}, nil
}
