package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/handoff/internal/errors"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	ctx := context.Background()

	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	sq, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Backend{
		"file":   fs,
		"sqlite": sq,
		"memory": NewMemoryStore(),
	}
}

func TestBackend_Contract(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Load(ctx, "default"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
			}

			if err := b.Save(ctx, "default", []byte(`{"v":1}`)); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := b.Load(ctx, "default")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if string(got) != `{"v":1}` {
				t.Errorf("Load = %s", got)
			}

			err = b.Update(ctx, "default", func(cur []byte) ([]byte, error) {
				if string(cur) != `{"v":1}` {
					t.Errorf("Update saw %s", cur)
				}
				return []byte(`{"v":2}`), nil
			})
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, _ = b.Load(ctx, "default")
			if string(got) != `{"v":2}` {
				t.Errorf("after Update Load = %s", got)
			}

			if err := b.Save(ctx, "alpha", []byte("a")); err != nil {
				t.Fatalf("Save alpha: %v", err)
			}
			keys, err := b.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if diff := cmp.Diff([]string{"alpha", "default"}, keys); diff != "" {
				t.Errorf("List mismatch (-want +got):\n%s", diff)
			}

			if err := b.Delete(ctx, "alpha"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := b.Delete(ctx, "alpha"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Delete(missing) = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestBackend_UpdateAbortLeavesValue(t *testing.T) {
	ctx := context.Background()
	abort := fmt.Errorf("abort")

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = b.Save(ctx, "k", []byte("original"))
			err := b.Update(ctx, "k", func([]byte) ([]byte, error) { return nil, abort })
			if !errors.Is(err, abort) {
				t.Fatalf("Update error = %v, want abort", err)
			}
			got, _ := b.Load(ctx, "k")
			if string(got) != "original" {
				t.Errorf("value changed to %q after aborted update", got)
			}
		})
	}
}

func TestBackend_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_ = b.Save(ctx, "counter", []byte("0"))

			var wg sync.WaitGroup
			for range 20 {
				wg.Go(func() {
					_ = b.Update(ctx, "counter", func(cur []byte) ([]byte, error) {
						var n int
						_, _ = fmt.Sscanf(string(cur), "%d", &n)
						return []byte(fmt.Sprint(n + 1)), nil
					})
				})
			}
			wg.Wait()

			got, _ := b.Load(ctx, "counter")
			if string(got) != "20" {
				t.Errorf("counter = %s, want 20", got)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"default", true},
		{"3f2a-uuid_like.v1", true},
		{"", false},
		{"../escape", false},
		{"a/b", false},
		{".hidden", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err == nil) != tt.ok {
				t.Errorf("ValidateKey(%q) = %v, want ok=%v", tt.key, err, tt.ok)
			}
		})
	}
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewFileStore(dir)
	ctx := context.Background()

	for i := range 5 {
		if err := fs.Save(ctx, "default", []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) != recordExt && filepath.Ext(e.Name()) != lockExt {
			t.Errorf("unexpected file left behind: %s", e.Name())
		}
	}
	keys, _ := fs.List(ctx)
	if diff := cmp.Diff([]string{"default"}, keys); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}
}

func TestMemoryStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	m.SetFailWrites(true)
	if err := m.Save(ctx, "k", []byte("x")); !errors.IsPersistence(err) {
		t.Errorf("Save error = %v, want persistence error", err)
	}
	m.SetFailWrites(false)
	_ = m.Save(ctx, "k", []byte("x"))

	m.SetFailReads(true)
	if _, err := m.Load(ctx, "k"); !errors.Is(err, errors.ErrBackendUnavailable) {
		t.Errorf("Load error = %v, want ErrBackendUnavailable", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		opts    Options
		wantErr bool
	}{
		{Options{Kind: KindFile, Dir: dir}, false},
		{Options{Kind: KindSQLite, SQLitePath: filepath.Join(dir, "s.db")}, false},
		{Options{Kind: KindMemory}, false},
		{Options{Kind: "redis"}, true},
		{Options{Kind: KindFile}, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.opts.Kind), func(t *testing.T) {
			b, err := Open(ctx, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				_ = b.Close()
			}
		})
	}
}
