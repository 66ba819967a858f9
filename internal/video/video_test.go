package video

import "testing"

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in, out string
		err     bool
	}{
		{"https://www.youtube.com/watch?v=abc123&t=10", "https://www.youtube.com/watch?v=abc123", false},
		{"https://www.youtube.com/watch?list=x&v=abc123", "https://www.youtube.com/watch?v=abc123", false},
		{"https://youtu.be/abc123?si=q", "https://www.youtube.com/watch?v=abc123", false},
		{"https://www.youtube.com/embed/abc123?autoplay=1", "https://www.youtube.com/watch?v=abc123", false},
		{"https://www.youtube.com/shorts/abc123", "https://www.youtube.com/watch?v=abc123", false},
		{"https://youtu.be/abc123#t=30", "https://www.youtube.com/watch?v=abc123", false},
		{"https://m.youtube.com/watch?v=abc123#t=30", "https://www.youtube.com/watch?v=abc123", false},
		{"https://youtube.com/shorts/abc123/", "https://www.youtube.com/watch?v=abc123", false},
		{"https://www.youtube.com/feed/subscriptions", "https://www.youtube.com/feed/subscriptions", false},
		{"https://vimeo.com/12345", "https://vimeo.com/12345", false},
		{"https://vimeo.com/123456?v=2", "https://vimeo.com/123456?v=2", false},
		{"https://player.vimeo.com/video/embed/76979871", "https://player.vimeo.com/video/embed/76979871", false},
		{"https://example.com/shorts/abc", "https://example.com/shorts/abc", false},
		{"  ", "", true},
		{"ftp://example.com/file", "", true},
		{"not a url", "", true},
	}

	for _, c := range cases {
		out, err := NormalizeURL(c.in)
		if c.err {
			if err == nil {
				t.Fatalf("%q: expected error, got %q", c.in, out)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.in, err)
		}
		if out != c.out {
			t.Fatalf("%q: expected %q, got %q", c.in, c.out, out)
		}
	}
}

func TestCleanTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", DefaultTitle},
		{"YouTube", DefaultTitle},
		{"Never Gonna Give You Up - YouTube", "Never Gonna Give You Up"},
		{"<b>Lo-fi</b> beats &amp; chill", "Lo-fi beats & chill"},
		{"@somechannel", DefaultTitle},
		{"by Rick Astley", DefaultTitle},
		{"Rick Astley's channel", DefaultTitle},
		{"1.2M subscribers", DefaultTitle},
		{"Subscribe to Rick", DefaultTitle},
		{"Rick", DefaultTitle},
		{"Cats in 4K", "Cats in 4K"},
	}

	for _, c := range cases {
		if got := CleanTitle(c.in); got != c.want {
			t.Fatalf("%q: expected %q, got %q", c.in, c.want, got)
		}
	}
}
