package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/y2w/store"
	"github.com/knadh/y2w/store/storetest"
	"github.com/rs/zerolog"
)

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := New(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	storetest.Run(t, s)
}

func TestFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	s, err := New(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	if err := s.Set("currentRoomKey", []byte(`"sk1"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file not written: %v", err)
	}

	s2, err := New(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("error reopening store: %v", err)
	}
	b, err := s2.Get("currentRoomKey")
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if string(b) != `"sk1"` {
		t.Fatalf("reloaded value = %q", b)
	}
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Path: path}, zerolog.Nop()); err == nil {
		t.Fatal("expected an error loading a corrupt settings file")
	}
}

func TestFileWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := New(Config{Path: path}, zerolog.Nop())
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}
	if err := s.Set("apiKey", []byte(`"k1"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// A non-empty directory at the path makes every rename fail.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(path, "x"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := s.Set("apiKey", []byte(`"k2"`)); err == nil {
		t.Fatal("expected Set to fail")
	}
	if err := s.Set("currentRoomKey", []byte(`"sk1"`)); err == nil {
		t.Fatal("expected Set to fail")
	}
	if err := s.Delete("apiKey"); err == nil {
		t.Fatal("expected Delete to fail")
	}

	b, err := s.Get("apiKey")
	if err != nil || string(b) != `"k1"` {
		t.Fatalf("apiKey = %q, %v; want the last saved value", b, err)
	}
	if _, err := s.Get("currentRoomKey"); err != store.ErrNotFound {
		t.Fatalf("unsaved key is visible: %v", err)
	}
}
