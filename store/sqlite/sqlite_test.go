package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/knadh/y2w/store/storetest"
)

func TestSQLite(t *testing.T) {
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "y2w.db")})
	if err != nil {
		t.Fatalf("error opening sqlite: %v", err)
	}
	defer s.Close()
	storetest.Run(t, s)
}
