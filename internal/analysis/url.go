package analysis

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// NormalizeURL trims whitespace and defaults the scheme to https so that
// "example.com" and "https://example.com/" refer to the same analysis target.
func NormalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}
	return u.String(), nil
}

// BuildSiteMap groups discovered URLs into a path-segment hierarchy. Invalid
// URLs are skipped rather than failing the whole map.
func BuildSiteMap(urls []string, now time.Time) *SiteMap {
	structure := make(map[string]any)
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		segments := splitPath(u.Path)
		level := structure
		for i, segment := range segments {
			child, ok := level[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				level[segment] = child
			}
			level = child
			if i == len(segments)-1 {
				level["__url"] = raw
			}
		}
	}
	return &SiteMap{
		Pages:      append([]string(nil), urls...),
		Structure:  structure,
		TotalPages: len(urls),
		CreatedAt:  now,
	}
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
