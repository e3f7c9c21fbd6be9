package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/fallback"
)

func writeOverrides(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write overrides: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallback.yaml")
	writeOverrides(t, path, `
chains:
  Interactive:
    prepend: [cursor]
  backend:
    override: true
    executors: [codex]
    append: [claude]
`)

	got, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides() error = %v", err)
	}
	want := fallback.Overrides{
		"interactive": {Prepend: []string{"cursor"}},
		"backend":     {Override: true, Executors: []string{"codex"}, Append: []string{"claude"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadOverrides() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverrides_Missing(t *testing.T) {
	got, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || got != nil {
		t.Errorf("LoadOverrides(missing) = %v, %v; want nil, nil", got, err)
	}
	if got, err := LoadOverrides(""); err != nil || got != nil {
		t.Errorf("LoadOverrides(\"\") = %v, %v", got, err)
	}
}

func TestLoadOverrides_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "chains: [unclosed"},
		{"override without executors", "chains:\n  backend:\n    override: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fallback.yaml")
			writeOverrides(t, path, tt.content)
			_, err := LoadOverrides(path)
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("LoadOverrides() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestWatchOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallback.yaml")

	changes := make(chan fallback.Overrides, 8)
	w, err := WatchOverrides(path, func(o fallback.Overrides) { changes <- o }, nil)
	if err != nil {
		t.Fatalf("WatchOverrides() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	// Unrelated files in the directory are ignored
	writeOverrides(t, filepath.Join(dir, "other.yaml"), "x: 1\n")

	writeOverrides(t, path, "chains:\n  interactive:\n    prepend: [cursor]\n")

	select {
	case o := <-changes:
		if !cmp.Equal(o["interactive"].Prepend, []string{"cursor"}) {
			t.Errorf("reloaded overrides = %+v", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for overrides reload")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case o := <-changes:
			if o == nil {
				return
			}
		case <-deadline:
			t.Fatal("removing the file should reload to nil overrides")
		}
	}
}

func TestOverridesWatcher_CloseTwice(t *testing.T) {
	w, err := WatchOverrides(filepath.Join(t.TempDir(), "fallback.yaml"), nil, nil)
	if err != nil {
		t.Fatalf("WatchOverrides() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
