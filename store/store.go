package store

import (
	"errors"
)

// Store represents a backend settings store. Values are opaque byte slices
// keyed by setting name.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, data []byte) error
	Delete(key string) error
	Close() error
}

// ErrNotFound indicates that the requested key was not found.
var ErrNotFound = errors.New("key not found")
