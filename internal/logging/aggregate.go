package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// LogEntry is one parsed log line. The scoping attributes are lifted into
// fields; everything else stays in Attrs.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Executor  string         `json:"executor,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields do not constrain; set
// fields are combined with AND.
type LogFilter struct {
	// Level is the minimum level, case insensitive.
	Level string

	StartTime time.Time
	EndTime   time.Time

	SessionID string
	TaskID    string
	Executor  string
	AttemptID string

	// MessageContains is a substring of the message.
	MessageContains string
}

// Match reports whether e passes every constraint set on f.
func (f LogFilter) Match(e LogEntry) bool {
	if f.Level != "" && levelRank(e.Level) < levelRank(f.Level) {
		return false
	}
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	for _, c := range [][2]string{
		{f.SessionID, e.SessionID},
		{f.TaskID, e.TaskID},
		{f.Executor, e.Executor},
		{f.AttemptID, e.AttemptID},
	} {
		if c[0] != "" && c[0] != c[1] {
			return false
		}
	}
	return f.MessageContains == "" || strings.Contains(e.Message, f.MessageContains)
}

// levelRank orders levels; unknown names rank with INFO.
func levelRank(level string) int {
	return slices.Index(ValidLevels(), ParseLevel(level))
}

// FilterLogs returns the entries matching filter, preserving order.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// AggregateLogs reads the log file in dir together with its rotated
// backups, plain or gzip compressed, and returns every entry in
// timestamp order. Lines that are not JSON are skipped.
func AggregateLogs(dir string) ([]LogEntry, error) {
	current := filepath.Join(dir, LogFileName)
	if _, err := os.Stat(current); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file found in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	stem := strings.TrimSuffix(LogFileName, filepath.Ext(LogFileName))
	plain, _ := filepath.Glob(filepath.Join(dir, stem+"-*.log"))
	compressed, _ := filepath.Glob(filepath.Join(dir, stem+"-*.log.gz"))

	var entries []LogEntry
	for _, p := range slices.Concat(plain, compressed, []string{current}) {
		got, err := readLogFile(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}

	slices.SortStableFunc(entries, func(a, b LogEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return entries, nil
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", filepath.Base(path), err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	const maxLine = 1 << 20
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if entry, err := parseLogEntry(line); err == nil {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filepath.Base(path), err)
	}
	return entries, nil
}

// parseLogEntry decodes one JSON line written by a Logger.
func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	var entry LogEntry
	take := func(key string) string {
		s, _ := raw[key].(string)
		delete(raw, key)
		return s
	}
	if ts, err := time.Parse(time.RFC3339Nano, take("time")); err == nil {
		entry.Timestamp = ts
	}
	entry.Level = take("level")
	entry.Message = take("msg")
	entry.SessionID = take(KeySession)
	entry.TaskID = take(KeyTask)
	entry.Executor = take(KeyExecutor)
	entry.AttemptID = take(KeyAttempt)
	if len(raw) > 0 {
		entry.Attrs = raw
	}
	return entry, nil
}

// WriteLogEntries writes entries to w as "text", "json" or "csv".
func WriteLogEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text":
		return writeText(w, entries)
	case "csv":
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, csv)", format)
	}
}

// writeText renders one line per entry:
//
//	[2026-01-15 10:00:00.000] WARN task escalated (task=t1, executor=codex) {"attempts":2}
func writeText(w io.Writer, entries []LogEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		fmt.Fprintf(bw, "[%s] %-5s %s", e.Timestamp.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

		var scope []string
		for _, kv := range [][2]string{
			{"session", e.SessionID},
			{"task", e.TaskID},
			{"executor", e.Executor},
			{"attempt", e.AttemptID},
		} {
			if kv[1] != "" {
				scope = append(scope, kv[0]+"="+kv[1])
			}
		}
		if len(scope) > 0 {
			fmt.Fprintf(bw, " (%s)", strings.Join(scope, ", "))
		}
		if len(e.Attrs) > 0 {
			attrs, _ := json.Marshal(e.Attrs)
			fmt.Fprintf(bw, " %s", attrs)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}
	return bw.Flush()
}

var csvHeader = []string{"timestamp", "level", "message", KeySession, KeyTask, KeyExecutor, KeyAttempt, "attrs"}

func writeCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		var attrs string
		if len(e.Attrs) > 0 {
			b, _ := json.Marshal(e.Attrs)
			attrs = string(b)
		}
		record := []string{
			e.Timestamp.Format(time.RFC3339Nano),
			e.Level,
			e.Message,
			e.SessionID,
			e.TaskID,
			e.Executor,
			e.AttemptID,
			attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
