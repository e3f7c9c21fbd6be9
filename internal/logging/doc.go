// Package logging provides structured logging for handoff sessions.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Every orchestration component logs through a
// [Logger] scoped to the session, task, executor and attempt it is working
// on, so a failed batch can be reconstructed with `handoff logs`.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".handoff", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithSession(rec.SessionID).WithTask(t.ID)
//	taskLog.WithExecutor("claude").Info("attempt closed", "outcome", "rate_limited")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"attempt closed","session_id":"default","task_id":"t1","executor":"claude","outcome":"rate_limited"}
//
// # Log Rotation
//
// File output is rotated by lumberjack. Backups are named
// handoff-<timestamp>.log, or .log.gz when compression is on, and
// [AggregateLogs] merges both kinds back in.
//
// # Log Aggregation and Filtering
//
//	entries, err := logging.AggregateLogs(".handoff")
//	filtered := logging.FilterLogs(entries, logging.LogFilter{
//	    Level:  "WARN",
//	    TaskID: "t1",
//	})
//	logging.WriteLogEntries(os.Stdout, filtered, "text")
//
// # Testing
//
// Use [NopLogger] to discard output, or [NewWriterLogger] with a
// bytes.Buffer to assert on emitted entries.
package logging
