package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knadh/y2w/store"
	"github.com/rs/zerolog"
)

// Config represents the file store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// File represents the file implementation of the Store interface. The whole
// map is rewritten on every mutation.
type File struct {
	cfg  *Config
	data map[string][]byte
	mu   sync.Mutex
	log  zerolog.Logger
}

// New returns a new file store, loading existing data from cfg.Path.
func New(cfg Config, log zerolog.Logger) (*File, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.fs.path is empty")
	}

	s := &File{
		cfg:  &cfg,
		data: map[string][]byte{},
		log:  log,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load the data from the file system.
func (m *File) load() error {
	b, err := os.ReadFile(m.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(b) == 0 {
		return nil
	}

	x := struct {
		Data map[string][]byte `json:"data"`
	}{}
	if err := json.Unmarshal(b, &x); err != nil {
		return fmt.Errorf("error parsing %s: %v", m.cfg.Path, err)
	}
	if x.Data != nil {
		m.data = x.Data
	}
	return nil
}

// save writes the data to a temp file and renames it over the original.
// The caller must hold the lock.
func (m *File) save() error {
	b, err := json.Marshal(struct {
		Data map[string][]byte `json:"data"`
	}{m.data})
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.cfg.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".y2w-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), m.cfg.Path); err != nil {
		m.log.Error().Err(err).Str("path", m.cfg.Path).Msg("error writing settings file")
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Get value from a key.
func (m *File) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, nil
}

// Set a value.
func (m *File) Set(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, had := m.data[key]
	m.data[key] = make([]byte, len(data))
	copy(m.data[key], data)

	// Memory must not run ahead of the file.
	if err := m.save(); err != nil {
		if had {
			m.data[key] = old
		} else {
			delete(m.data, key)
		}
		return err
	}
	return nil
}

// Delete removes a key.
func (m *File) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.data[key]
	if !ok {
		return nil
	}
	delete(m.data, key)
	if err := m.save(); err != nil {
		m.data[key] = old
		return err
	}
	return nil
}

// Close is a no-op as every mutation is already on disk.
func (m *File) Close() error {
	return nil
}
