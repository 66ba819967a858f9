// Package video normalises the video URL and title of a send request.
package video

import (
	"errors"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultTitle replaces titles that look like channel names or page chrome.
const DefaultTitle = "YouTube Video"

// ErrInvalidURL is returned for URLs that are neither a recognised video URL
// nor an absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid video URL")

var (
	watchHosts = map[string]bool{
		"youtube.com":     true,
		"www.youtube.com": true,
		"m.youtube.com":   true,
	}

	// Titles that are really a channel name, a subscriber count or a link label.
	channelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^by\s+`),
		regexp.MustCompile(`^[^-]+ - YouTube$`),
		regexp.MustCompile(`^@[\w-]+$`),
		regexp.MustCompile(`(?i)^[\w\s]+'s channel$`),
		regexp.MustCompile(`(?i)^[\w\s]+channel$`),
		regexp.MustCompile(`(?i)subscribers?$`),
		regexp.MustCompile(`(?i)^\d+[.\d]*[KMB]?\s+subscribers?$`),
		regexp.MustCompile(`(?i)^Visit\s`),
		regexp.MustCompile(`(?i)^Go to\s`),
		regexp.MustCompile(`(?i)^Subscribe to\s`),
		regexp.MustCompile(`(?i)^[\w\s]+·[\w\s]+subscribers?$`),
		regexp.MustCompile(`(?i)^[\w\s]+•[\w\s]+subscribers?$`),
	}

	strict = bluemonday.StrictPolicy()
)

// ID extracts the video ID from the common YouTube URL forms: watch?v=,
// youtu.be/, embed/ and shorts/. URLs on other hosts never yield an ID.
func ID(u *url.URL) (string, bool) {
	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return firstSegment(u.Path)
	}
	if !watchHosts[host] {
		return "", false
	}

	if v := u.Query().Get("v"); v != "" {
		return v, true
	}
	for _, prefix := range []string{"/embed/", "/shorts/"} {
		if strings.HasPrefix(u.Path, prefix) {
			return firstSegment(strings.TrimPrefix(u.Path, prefix))
		}
	}
	return "", false
}

func firstSegment(p string) (string, bool) {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p, p != ""
}

// NormalizeURL returns the canonical watch URL for YouTube URLs. Other
// absolute http(s) URLs are returned unchanged.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidURL
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidURL
	}

	if id, ok := ID(u); ok {
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(id), nil
	}
	return raw, nil
}

// CleanTitle strips markup and the site suffix from title and falls back to
// DefaultTitle when what remains is not a real video title.
func CleanTitle(title string) string {
	t := html.UnescapeString(strict.Sanitize(title))
	t = strings.TrimSpace(strings.TrimSuffix(t, " - YouTube"))

	switch t {
	case "", "YouTube", DefaultTitle:
		return DefaultTitle
	}

	for _, p := range channelPatterns {
		if p.MatchString(t) {
			return DefaultTitle
		}
	}

	// Very short single words are usually a channel name.
	if len([]rune(t)) < 5 && !strings.Contains(t, " ") {
		return DefaultTitle
	}
	return t
}
