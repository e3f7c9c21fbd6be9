package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View orchestration logs",
	Long: `View and filter the structured logs written to the state directory,
including rotated backups.

Examples:
  # Show the last 50 entries
  handoff logs

  # Everything about one task, as JSON
  handoff logs --task task-7 -n 0 --format json

  # Warnings and errors from the last hour
  handoff logs --level warn --since 1h

  # Follow new entries as they are written
  handoff logs -f`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsTaskID    string
	logsExecutor  string
	logsAttemptID string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsFormat    string
)

func init() {
	logsCmd.Flags().StringVar(&logsSessionID, "session-id", "", "only entries for this session")
	logsCmd.Flags().StringVar(&logsTaskID, "task", "", "only entries for this task")
	logsCmd.Flags().StringVar(&logsExecutor, "executor", "", "only entries for this executor")
	logsCmd.Flags().StringVar(&logsAttemptID, "attempt", "", "only entries for this attempt")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "output format (text/json/csv)")
}

func buildLogFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		SessionID:       logsSessionID,
		TaskID:          logsTaskID,
		Executor:        logsExecutor,
		AttemptID:       logsAttemptID,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		if !slices.Contains(logging.ValidLevels(), strings.ToUpper(logsLevel)) {
			return filter, fmt.Errorf("invalid level %q (valid: %s)", logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = now.Add(-d)
	}
	return filter, nil
}

func tailEntries(entries []logging.LogEntry, n int) []logging.LogEntry {
	if n > 0 && len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseDir, err := projectDir()
	if err != nil {
		return err
	}
	dir := config.ResolvePath(cfg.Persistence.Dir, baseDir)

	filter, err := buildLogFilter(time.Now())
	if err != nil {
		return err
	}

	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return err
	}
	entries = tailEntries(logging.FilterLogs(entries, filter), logsTail)
	out := cmd.OutOrStdout()
	if err := logging.WriteLogEntries(out, entries, logsFormat); err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	var last time.Time
	if len(entries) > 0 {
		last = entries[len(entries)-1].Timestamp
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return followLogs(ctx, out, dir, filter, last)
}

// followLogs prints entries newer than last whenever the log file changes.
func followLogs(ctx context.Context, out io.Writer, dir string, filter logging.LogFilter, last time.Time) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to watch logs: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logPath := filepath.Join(dir, logging.LogFileName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("log watcher: %w", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != logPath || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			entries, err := logging.AggregateLogs(dir)
			if err != nil {
				continue
			}
			if !last.IsZero() {
				filter.StartTime = last.Add(time.Nanosecond)
			}
			fresh := logging.FilterLogs(entries, filter)
			if len(fresh) == 0 {
				continue
			}
			if err := logging.WriteLogEntries(out, fresh, logsFormat); err != nil {
				return err
			}
			last = fresh[len(fresh)-1].Timestamp
		}
	}
}
