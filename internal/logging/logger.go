package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the name of the log file inside the state directory.
const LogFileName = "handoff.log"

// Keys of the scoping attributes. AggregateLogs lifts them out of Attrs.
const (
	KeySession  = "session_id"
	KeyTask     = "task_id"
	KeyExecutor = "executor"
	KeyAttempt  = "attempt_id"
)

var levels = []struct {
	name  string
	level slog.Level
}{
	{LevelDebug, slog.LevelDebug},
	{LevelInfo, slog.LevelInfo},
	{LevelWarn, slog.LevelWarn},
	{LevelError, slog.LevelError},
}

// output is the file shared by a root Logger and all of its children.
type output struct {
	mu sync.Mutex
	c  io.Closer
}

func (o *output) close() error {
	if o == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.c == nil {
		return nil
	}
	err := o.c.Close()
	o.c = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// Logger writes JSON entries scoped to a session, task, executor and
// attempt. Scoping returns a child; the parent is unchanged. It is safe
// for concurrent use.
type Logger struct {
	sl  *slog.Logger
	out *output
}

// NewLogger creates a Logger writing JSON to {dir}/handoff.log using the
// default rotation settings. If dir is empty, logs go to stderr.
func NewLogger(dir string, level string) (*Logger, error) {
	return NewLoggerWithRotation(dir, level, DefaultRotationConfig())
}

// NewLoggerWithRotation creates a Logger whose file output is rotated
// according to config. Entries below level are dropped.
func NewLoggerWithRotation(dir string, level string, config RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw := NewRotatingWriter(filepath.Join(dir, LogFileName), config)
	return newLogger(rw, level, &output{c: rw}), nil
}

// NewWriterLogger creates a Logger that writes JSON to w. The caller owns w;
// Close does not close it.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(w, level, nil)
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return NewWriterLogger(io.Discard, LevelError)
}

func newLogger(w io.Writer, level string, out *output) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)})
	return &Logger{sl: slog.New(h), out: out}
}

func slogLevel(level string) slog.Level {
	name := ParseLevel(level)
	for _, l := range levels {
		if l.name == name {
			return l.level
		}
	}
	return slog.LevelInfo
}

// WithSession scopes entries to a session.
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.with(slog.String(KeySession, sessionID))
}

// WithTask scopes entries to a task.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.with(slog.String(KeyTask, taskID))
}

// WithExecutor scopes entries to an executor.
func (l *Logger) WithExecutor(executor string) *Logger {
	return l.with(slog.String(KeyExecutor, executor))
}

// WithAttempt scopes entries to one executor attempt.
func (l *Logger) WithAttempt(attemptID string) *Logger {
	return l.with(slog.String(KeyAttempt, attemptID))
}

// With returns a child Logger carrying alternating key-value pairs. Pairs
// whose key is not a string are dropped.
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			attrs = append(attrs, slog.Any(key, args[i+1]))
		}
	}
	return l.with(attrs...)
}

func (l *Logger) with(attrs ...slog.Attr) *Logger {
	if len(attrs) == 0 {
		return l
	}
	h := l.sl.Handler().WithAttrs(attrs)
	return &Logger{sl: slog.New(h), out: l.out}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.sl.Debug(msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.sl.Info(msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.sl.Warn(msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.sl.Error(msg, args...) }

// Close closes the log file shared by this Logger's family. It is a no-op
// for loggers without a file and safe to call more than once.
func (l *Logger) Close() error {
	return l.out.close()
}

// ParseLevel normalizes a level name, defaulting to INFO when it is not
// recognized.
func ParseLevel(level string) string {
	upper := strings.ToUpper(strings.TrimSpace(level))
	for _, l := range levels {
		if l.name == upper {
			return l.name
		}
	}
	return LevelInfo
}

// ValidLevels returns the level names from most to least verbose.
func ValidLevels() []string {
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = l.name
	}
	return names
}
