package resolver

import "testing"

func TestDetectorChain(t *testing.T) {
	cases := []struct {
		name    string
		page    Page
		key     string
		source  string
		missing bool
	}{
		{
			name:   "query param",
			page:   Page{URL: "https://w2g.tv/?access_key=a&r=abcdefghij12"},
			key:    "abcdefghij12",
			source: "url-query-param",
		},
		{
			name:    "short query param ignored",
			page:    Page{URL: "https://w2g.tv/?access_key=a&r=short"},
			missing: true,
		},
		{
			name:   "localized path",
			page:   Page{URL: "https://w2g.tv/de/room/xyz789?access_key=a"},
			key:    "xyz789",
			source: "url-path",
		},
		{
			name: "next data",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"room":{"streamkey":"nextkey"}}}}</script>`,
			},
			key:    "nextkey",
			source: "nextjs-data",
		},
		{
			name: "link query",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<a href="mailto:?body=https%3A%2F%2Fw2g.tv%2F%3Fr%3Dlinkkey1">share</a>`,
			},
			key:    "linkkey1",
			source: "link-href-query",
		},
		{
			name: "link path",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<a href="https://w2g.tv/rooms/pathkey1">room</a>`,
			},
			key:    "pathkey1",
			source: "link-href-path",
		},
		{
			name: "copy button",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<div class="invite-box"><span>w2g.tv/rooms/copykey1</span> <button data-w2g="copy-link">Copy</button></div>`,
			},
			key:    "copykey1",
			source: "copy-button-path",
		},
		{
			name: "hidden input",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<form><input type="hidden" name="room_stream" value="inputkey"></form>`,
			},
			key:    "inputkey",
			source: "dom-hidden-input",
		},
		{
			name: "json script depth",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<script type="application/json">{"a":{"streamkey":"jsonkey"}}</script>`,
			},
			key:    "jsonkey",
			source: "dom-script-json",
		},
		{
			name: "json script too deep",
			page: Page{
				URL:  "https://w2g.tv/en/room/?access_key=a",
				HTML: `<script type="application/json">{"a":{"b":{"c":{"streamkey":"deep"}}}}</script>`,
			},
			missing: true,
		},
		{
			name: "local storage",
			page: Page{
				URL:     "https://w2g.tv/en/room/?access_key=a",
				Storage: map[string]string{"plain": "streamkey", "w2g": `{"room":{"streamkey":"storekey"}}`},
			},
			key:    "storekey",
			source: "localStorage",
		},
	}

	for _, c := range cases {
		s, err := newSnapshot(c.page)
		if err != nil {
			t.Fatalf("%s: bad snapshot: %v", c.name, err)
		}

		var (
			key, src string
			ok       bool
		)
		for _, d := range Detectors {
			if key, src, ok = d.Detect(s); ok {
				break
			}
		}

		if c.missing {
			if ok {
				t.Fatalf("%s: expected no key, got %q from %s", c.name, key, src)
			}
			continue
		}
		if !ok || key != c.key || src != c.source {
			t.Fatalf("%s: expected %q from %s, got %q from %s", c.name, c.key, c.source, key, src)
		}
	}
}
