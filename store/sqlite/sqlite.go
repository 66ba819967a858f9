package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/knadh/y2w/store"
	_ "github.com/mattn/go-sqlite3"
)

// Config represents the SQLite store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// SQLite represents the SQLite implementation of the Store interface.
type SQLite struct {
	cfg *Config
	db  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// New opens the database at cfg.Path and creates the settings table.
func New(cfg Config) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("store.sqlite.path is empty")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, err
	}

	// A single writer avoids SQLITE_BUSY on concurrent API calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating settings table: %w", err)
	}
	return &SQLite{cfg: &cfg, db: db}, nil
}

// Get value from a key.
func (s *SQLite) Get(key string) ([]byte, error) {
	var out []byte
	if err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&out); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("error querying setting: %w", err)
	}
	return out, nil
}

// Set a value.
func (s *SQLite) Set(key string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, time.Now().UTC())
	return err
}

// Delete removes a key.
func (s *SQLite) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key)
	return err
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
