package checkpoint

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DetectStaleness reports whether any file referenced by a completed step
// was modified after the checkpoint was last updated. Files absent from
// fileTimestamps are ignored.
func DetectStaleness(cp *Checkpoint, fileTimestamps map[string]time.Time) bool {
	return len(StaleFiles(cp, fileTimestamps)) > 0
}

// StaleFiles returns the referenced files modified after the checkpoint's
// last update, sorted.
func StaleFiles(cp *Checkpoint, fileTimestamps map[string]time.Time) []string {
	if cp == nil {
		return nil
	}
	var stale []string
	for _, f := range cp.ReferencedFiles() {
		if mod, ok := fileTimestamps[f]; ok && mod.After(cp.Metadata.LastUpdatedAt) {
			stale = append(stale, f)
		}
	}
	sort.Strings(stale)
	return stale
}

// FileTimestamps stats every file referenced by cp's completed steps.
// Relative paths resolve against the manager's work directory. Missing
// files are skipped; other stat errors are returned with the partial map.
func (m *Manager) FileTimestamps(cp *Checkpoint) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	var firstErr error
	for _, f := range cp.ReferencedFiles() {
		path := f
		if !filepath.IsAbs(path) && m.workDir != "" {
			path = filepath.Join(m.workDir, path)
		}
		info, err := m.fs.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[f] = info.ModTime()
	}
	return out, firstErr
}

// Staleness stats referenced files and returns the stale ones.
func (m *Manager) Staleness(cp *Checkpoint) ([]string, error) {
	ts, err := m.FileTimestamps(cp)
	return StaleFiles(cp, ts), err
}
