package pebble

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/knadh/y2w/store"
)

// Config represents the Pebble store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// Pebble represents the Pebble implementation of the Store interface.
// Each setting is one key in the database.
type Pebble struct {
	cfg *Config
	db  *pebble.DB
}

// New opens (or creates) the Pebble database at cfg.Path.
func New(cfg Config) (*Pebble, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.pebble.path is empty")
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, err
	}

	db, err := pebble.Open(filepath.Clean(cfg.Path), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{cfg: &cfg, db: db}, nil
}

// Get value from a key.
func (p *Pebble) Get(key string) ([]byte, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// The returned slice is only valid until closer.Close().
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set a value.
func (p *Pebble) Set(key string, data []byte) error {
	return p.db.Set([]byte(key), data, pebble.Sync)
}

// Delete removes a key.
func (p *Pebble) Delete(key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

// Close closes the database.
func (p *Pebble) Close() error {
	return p.db.Close()
}
