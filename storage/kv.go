// Package storage implements the durable key-value collaborator used by the
// chat store and plugin runtime, plus the repositories layered on top of it.
//
// Keys are slash-separated namespaces ("sessions/<id>", "active-session-id",
// "plugins/settings", "templates/custom"). Values are opaque byte blobs,
// JSON in practice.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("key not found")

// KV is the minimal durable store contract.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Lister enumerates keys under a prefix, sorted ascending.
type Lister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Backend is a KV that can list keys and must be closed.
type Backend interface {
	KV
	Lister
	Close() error
}

// PersistenceError reports a failed save or load. In-memory state stays
// authoritative when one of these is returned.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open creates the named backend rooted at dataDir.
func Open(backend, dataDir string) (Backend, error) {
	switch backend {
	case BackendFile, "":
		return NewFileKV(filepath.Join(dataDir, "store"))
	case BackendSQLite:
		return NewSQLiteKV(filepath.Join(dataDir, "chatwrap.db"))
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}

// GetJSON loads key into v. It returns ErrNotFound untouched so callers can
// fall back to defaults.
func GetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "load", Key: key, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return nil
}

// PutJSON stores v under key.
func PutJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return &PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := kv.Set(ctx, key, data); err != nil {
		return &PersistenceError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// ValidateKey rejects keys that cannot be mapped safely onto a filesystem.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid key %q", key)
		}
		for _, r := range seg {
			if !isKeyRune(r) {
				return fmt.Errorf("invalid character %q in key %q", r, key)
			}
		}
	}
	return nil
}

func isKeyRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '_', r == '.':
		return true
	}
	return false
}
