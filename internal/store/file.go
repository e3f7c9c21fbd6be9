package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Iron-Ham/handoff/internal/errors"
)

const (
	recordExt = ".json"
	lockExt   = ".lock"
)

// FileStore keeps one file per key under a base directory. Writes are
// atomic (temp file + rename in the same directory) and every operation
// holds a per-key flock so separate processes sharing the directory
// serialize their read-modify-write cycles.
type FileStore struct {
	baseDir string
	mu      sync.Mutex // serializes in-process access; flock is per process
}

// NewFileStore creates a FileStore rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("file store requires a directory")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, persistErr("open", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Dir returns the base directory.
func (fs *FileStore) Dir() string {
	return fs.baseDir
}

// Load reads a key under a shared lock.
func (fs *FileStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fl := flock.New(fs.lockPath(key))
	if err := fl.RLock(); err != nil {
		return nil, persistErr("load", key, err)
	}
	defer func() { _ = fl.Unlock() }()

	return fs.read(key)
}

// Save overwrites a key under an exclusive lock.
func (fs *FileStore) Save(ctx context.Context, key string, data []byte) error {
	return fs.Update(ctx, key, func([]byte) ([]byte, error) { return data, nil })
}

// Update performs an atomic read-modify-write under an exclusive lock.
func (fs *FileStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fl := flock.New(fs.lockPath(key))
	if err := fl.Lock(); err != nil {
		return persistErr("update", key, err)
	}
	defer func() { _ = fl.Unlock() }()

	current, err := fs.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := atomicWriteFile(fs.recordPath(key), next, 0644); err != nil {
		return persistErr("save", key, err)
	}
	return nil
}

// Delete removes a key and its lock file.
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fl := flock.New(fs.lockPath(key))
	if err := fl.Lock(); err != nil {
		return persistErr("delete", key, err)
	}
	defer func() {
		_ = fl.Unlock()
		_ = os.Remove(fs.lockPath(key))
	}()

	if err := os.Remove(fs.recordPath(key)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return persistErr("delete", key, err)
	}
	return nil
}

// List returns the keys of all stored records.
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, persistErr("list", "", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; FileStore holds no open handles between calls.
func (fs *FileStore) Close() error {
	return nil
}

func (fs *FileStore) read(key string) ([]byte, error) {
	data, err := os.ReadFile(fs.recordPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, persistErr("load", key, err)
	}
	return data, nil
}

func (fs *FileStore) recordPath(key string) string {
	return filepath.Join(fs.baseDir, key+recordExt)
}

func (fs *FileStore) lockPath(key string) string {
	return filepath.Join(fs.baseDir, "."+key+lockExt)
}

// atomicWriteFile writes data to a temp file in the target directory, syncs
// it, and renames it over path so readers never see a partial record.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
