package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
)

// overridesDebounce coalesces the burst of events editors emit on save.
const overridesDebounce = 50 * time.Millisecond

// overridesFile is the on-disk layout of a project override file.
type overridesFile struct {
	Chains map[string]fallback.Override `yaml:"chains"`
}

// LoadOverrides reads a project override file. Its chains section maps
// category names to an override layer:
//
//	chains:
//	  interactive: {prepend: [ui-specialist]}
//	  infrastructure: {override: true, executors: [ops-agent]}
//
// A missing file yields nil overrides and no error.
func LoadOverrides(path string) (fallback.Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var raw overridesFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid overrides file: %v", err)).
			WithField("fallback.overrides_file").
			WithValue(path)
	}

	out := make(fallback.Overrides, len(raw.Chains))
	for name, o := range raw.Chains {
		name = strings.ToLower(strings.TrimSpace(name))
		if o.Override && len(o.Executors) == 0 {
			return nil, errors.NewValidationError("override set without executors").
				WithField("fallback.overrides_file." + name).
				WithValue(path)
		}
		out[name] = o
	}
	return out, nil
}

// OverridesWatcher reloads a project override file when it changes.
type OverridesWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(fallback.Overrides)
	logger   *logging.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// WatchOverrides watches path and calls onChange with the freshly loaded
// overrides after each change. The parent directory is watched so the file
// may be created, replaced or removed while the watcher runs. A removed file
// yields nil overrides; a file that fails to parse is logged and ignored.
func WatchOverrides(path string, onChange func(fallback.Overrides), logger *logging.Logger) (*OverridesWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w := &OverridesWatcher{
		path:     abs,
		watcher:  watcher,
		onChange: onChange,
		logger:   logger.With("overrides_file", abs),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *OverridesWatcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *OverridesWatcher) watchLoop() {
	defer close(w.done)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			debounceTimer.Reset(overridesDebounce)

		case <-debounceTimer.C:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("overrides watcher error", "error", err)
		}
	}
}

func (w *OverridesWatcher) reload() {
	o, err := LoadOverrides(w.path)
	if err != nil {
		w.logger.Warn("ignoring unreadable overrides file", "error", err)
		return
	}
	w.logger.Info("project overrides reloaded", "categories", len(o))
	if w.onChange != nil {
		w.onChange(o)
	}
}
