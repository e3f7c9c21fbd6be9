// Package store provides the persistence backends that hold session records.
//
// A [Backend] is a small key-value store with one extra guarantee: [Backend.Update]
// performs an atomic read-modify-write, so concurrent readers never observe
// a partial record and two processes updating the same key serialize.
// Records are opaque bytes; the session package owns their encoding.
//
// Three implementations are provided:
//   - [FileStore]: one JSON file per key, atomic temp+rename writes,
//     cross-process exclusion with gofrs/flock
//   - [SQLiteStore]: a single table in a modernc.org/sqlite database
//   - [MemoryStore]: in-process map, for tests and --backend=memory
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Iron-Ham/handoff/internal/errors"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("not found")

// UpdateFunc receives the current bytes for a key (nil when absent) and
// returns the bytes to store. Returning an error aborts the update and
// leaves the stored value unchanged.
type UpdateFunc func(current []byte) ([]byte, error)

// Backend is durable key-value storage for state records.
type Backend interface {
	// Load returns the data stored under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save overwrites the data stored under key.
	Save(ctx context.Context, key string, data []byte) error

	// Update atomically applies fn to the current value of key.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Delete removes key. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys in lexical order.
	List(ctx context.Context) ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateKey rejects keys that cannot be used safely as file names.
func ValidateKey(key string) error {
	if !validKey.MatchString(key) {
		return errors.NewValidationError("key must be 1-128 characters of [A-Za-z0-9._-] and not start with a separator").
			WithField("key").
			WithValue(key)
	}
	return nil
}

// Kind names a backend implementation.
type Kind string

const (
	KindFile   Kind = "file"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// ValidKinds returns the supported backend kinds.
func ValidKinds() []string {
	return []string{string(KindFile), string(KindSQLite), string(KindMemory)}
}

// Options selects and configures a backend.
type Options struct {
	Kind       Kind
	Dir        string // FileStore root
	SQLitePath string // SQLiteStore database file
}

// Open constructs the backend described by opts.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Kind {
	case KindFile, "":
		return NewFileStore(opts.Dir)
	case KindSQLite:
		return NewSQLiteStore(ctx, opts.SQLitePath)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", opts.Kind)
	}
}

// persistErr wraps a backend failure so callers can classify it with
// errors.IsPersistence.
func persistErr(op, key string, err error) error {
	return errors.NewPersistenceError(op+" failed", err).WithOperation(op).WithKey(key)
}
