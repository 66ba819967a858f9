package resolver

import (
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is a snapshot of a provider page as captured by the extension.
type Page struct {
	URL  string `json:"url"`
	HTML string `json:"html"`

	// Storage holds the page's localStorage entries.
	Storage map[string]string `json:"storage"`
}

// Snapshot is a parsed Page handed to detectors.
type Snapshot struct {
	URL     *url.URL
	Doc     *html.Node
	Storage map[string]string
}

// Detector looks for a room stream key in a page snapshot.
type Detector interface {
	Detect(s *Snapshot) (key, source string, ok bool)
}

// DetectorFunc adapts a function to a Detector.
type DetectorFunc func(s *Snapshot) (string, string, bool)

// Detect calls f(s).
func (f DetectorFunc) Detect(s *Snapshot) (string, string, bool) {
	return f(s)
}

// Detectors is the default detector chain, most reliable first.
var Detectors = []Detector{
	DetectorFunc(detectQueryParam),
	DetectorFunc(detectURLPath),
	DetectorFunc(detectNextData),
	DetectorFunc(detectLinks),
	DetectorFunc(detectCopyButtons),
	DetectorFunc(detectDataAttrs),
	DetectorFunc(detectHiddenInputs),
	DetectorFunc(detectJSONScripts),
	DetectorFunc(detectStorage),
}

// Minimum length of a stream key taken from the ?r= query parameter.
const minQueryKeyLen = 10

var (
	reQueryKey = regexp.MustCompile(`(?i)[?&]r=([a-z0-9]+)`)
	reRoomPath = regexp.MustCompile(`(?i)/rooms?/([a-z0-9]+)`)
	reHostPath = regexp.MustCompile(`(?i)w2g\.tv/rooms?/([a-z0-9]+)`)

	pathPatterns = []*regexp.Regexp{
		reRoomPath,
		regexp.MustCompile(`(?i)/[a-z]{2}/rooms?/([a-z0-9]+)`),
		regexp.MustCompile(`(?i)^/([a-z0-9]{10,})$`),
	}
)

func newSnapshot(p Page) (*Snapshot, error) {
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" {
		return nil, errors.New("invalid page URL")
	}

	doc, err := html.Parse(strings.NewReader(p.HTML))
	if err != nil {
		return nil, err
	}

	return &Snapshot{URL: u, Doc: doc, Storage: p.Storage}, nil
}

func detectQueryParam(s *Snapshot) (string, string, bool) {
	if r := s.URL.Query().Get("r"); len(r) >= minQueryKeyLen {
		return r, "url-query-param", true
	}
	return "", "", false
}

func detectURLPath(s *Snapshot) (string, string, bool) {
	for _, p := range pathPatterns {
		if m := p.FindStringSubmatch(s.URL.Path); m != nil && m[1] != "" {
			return m[1], "url-path", true
		}
	}
	return "", "", false
}

func detectNextData(s *Snapshot) (string, string, bool) {
	var key string
	walk(s.Doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Script || attr(n, "id") != "__NEXT_DATA__" {
			return true
		}
		key = findInJSON(text(n), 4)
		return false
	})
	return key, "nextjs-data", key != ""
}

func detectLinks(s *Snapshot) (key, src string, ok bool) {
	walk(s.Doc, func(n *html.Node) bool {
		if n.DataAtom != atom.A {
			return true
		}
		href := attr(n, "href")
		if !strings.Contains(href, "w2g.tv") && !strings.Contains(href, "/rooms/") {
			return true
		}
		if d, err := url.PathUnescape(href); err == nil {
			href = d
		}

		if m := reQueryKey.FindStringSubmatch(href); m != nil {
			key, src, ok = m[1], "link-href-query", true
			return false
		}
		if m := reRoomPath.FindStringSubmatch(href); m != nil {
			key, src, ok = m[1], "link-href-path", true
			return false
		}
		return true
	})
	return key, src, ok
}

// detectCopyButtons reads the room URL shown next to the site's copy
// buttons.
func detectCopyButtons(s *Snapshot) (key, src string, ok bool) {
	walk(s.Doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || !strings.Contains(attr(n, "data-w2g"), "copy") {
			return true
		}

		var box *html.Node
		for p := n; p != nil; p = p.Parent {
			cls := attr(p, "class")
			if strings.Contains(cls, "room") || strings.Contains(cls, "invite") {
				box = p
				break
			}
		}
		if box == nil {
			return true
		}

		t := text(box)
		if m := reQueryKey.FindStringSubmatch(t); m != nil {
			key, src, ok = m[1], "copy-button-query", true
			return false
		}
		if m := reHostPath.FindStringSubmatch(t); m != nil {
			key, src, ok = m[1], "copy-button-path", true
			return false
		}
		return true
	})
	return key, src, ok
}

func detectDataAttrs(s *Snapshot) (string, string, bool) {
	var key string
	walk(s.Doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if v := attr(n, "data-streamkey"); v != "" {
			key = v
		} else if v := attr(n, "data-room-id"); v != "" {
			key = v
		}
		return key == ""
	})
	return key, "dom-data-attribute", key != ""
}

func detectHiddenInputs(s *Snapshot) (string, string, bool) {
	var key string
	walk(s.Doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Input || !strings.EqualFold(attr(n, "type"), "hidden") {
			return true
		}
		name := attr(n, "name")
		if !strings.Contains(name, "stream") && !strings.Contains(name, "room") {
			return true
		}
		key = attr(n, "value")
		return key == ""
	})
	return key, "dom-hidden-input", key != ""
}

func detectJSONScripts(s *Snapshot) (string, string, bool) {
	var key string
	walk(s.Doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Script || attr(n, "type") != "application/json" {
			return true
		}
		key = findInJSON(text(n), 2)
		return key == ""
	})
	return key, "dom-script-json", key != ""
}

func detectStorage(s *Snapshot) (string, string, bool) {
	keys := make([]string, 0, len(s.Storage))
	for k := range s.Storage {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := s.Storage[k]
		if !strings.HasPrefix(v, "{") {
			continue
		}
		if key := findInJSON(v, 2); key != "" {
			return key, "localStorage", true
		}
	}
	return "", "", false
}

// findInJSON looks for a "streamkey" string property in the JSON document
// b, descending at most maxDepth levels below the root.
func findInJSON(b string, maxDepth int) string {
	var v interface{}
	if err := json.Unmarshal([]byte(b), &v); err != nil {
		return ""
	}
	return findStreamKey(v, maxDepth, 0)
}

func findStreamKey(v interface{}, maxDepth, depth int) string {
	if depth > maxDepth {
		return ""
	}

	switch o := v.(type) {
	case map[string]interface{}:
		if s, ok := o["streamkey"].(string); ok && s != "" {
			return s
		}

		// Object key order is lost in decoding, so walk keys sorted.
		keys := make([]string, 0, len(o))
		for k := range o {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := findStreamKey(o[k], maxDepth, depth+1); s != "" {
				return s
			}
		}

	case []interface{}:
		for _, e := range o {
			if s := findStreamKey(e, maxDepth, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

// walk visits n and its descendants depth first, in document order, until
// fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// text returns the concatenated text content of n.
func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
