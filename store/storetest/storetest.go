// Package storetest holds the behaviour every settings backend must share.
package storetest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/knadh/y2w/store"
)

// Run exercises the Store contract against s.
func Run(t *testing.T, s store.Store) {
	t.Helper()

	if _, err := s.Get("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing): expected ErrNotFound, got %v", err)
	}

	if err := s.Set("apiKey", []byte(`"K"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	b, err := s.Get("apiKey")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(b, []byte(`"K"`)) {
		t.Fatalf("Get returned %q, expected %q", b, `"K"`)
	}

	// Overwrite.
	if err := s.Set("apiKey", []byte(`"K2"`)); err != nil {
		t.Fatalf("Set (overwrite) failed: %v", err)
	}
	b, _ = s.Get("apiKey")
	if string(b) != `"K2"` {
		t.Fatalf("overwritten value = %q", b)
	}

	// Returned slices must not alias the stored value.
	b[0] = 'x'
	b2, _ := s.Get("apiKey")
	if string(b2) != `"K2"` {
		t.Fatalf("stored value was mutated through Get: %q", b2)
	}

	if err := s.Delete("apiKey"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("apiKey"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get after Delete: expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("apiKey"); err != nil {
		t.Fatalf("Delete of missing key should not fail: %v", err)
	}
}
