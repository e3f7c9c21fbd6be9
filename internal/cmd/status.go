package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/operator"
	"github.com/Iron-Ham/handoff/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a session",
	Long: `Show a session's active task, its checkpoint and attempts, and the
tasks it has finished. Checkpointed files modified since the checkpoint
was written are listed as changed.

The session is only read; its heartbeat is not touched.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw session record as JSON")
}

// statusView is the JSON shape of the status command.
type statusView struct {
	*session.Record
	Stale        bool     `json:"stale"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	id := targetSession(a.cfg)
	rec, err := a.engine.Sessions().Inspect(ctx, id)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			fmt.Fprintf(cmd.OutOrStdout(), "No session %s.\n", id)
			return nil
		}
		return err
	}

	view := statusView{
		Record: rec,
		Stale:  rec.IsStale(time.Now(), a.engine.Sessions().Timeout()),
	}
	if rec.ActiveTask != nil && rec.ActiveTask.Checkpoint != nil {
		changed, serr := a.engine.Checkpoints().Staleness(rec.ActiveTask.Checkpoint)
		if serr != nil {
			a.logger.Warn("could not stat checkpointed files", "error", serr.Error())
		}
		view.ChangedFiles = changed
	}

	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printStatus(cmd.OutOrStdout(), view)
	return nil
}

func printStatus(out io.Writer, v statusView) {
	heartbeat := v.LastHeartbeat.Format(time.RFC3339)
	if v.Stale {
		heartbeat += " (stale)"
	}
	fmt.Fprintf(out, "Session:   %s\n", v.SessionID)
	fmt.Fprintf(out, "Heartbeat: %s\n", heartbeat)
	if v.Owner != nil {
		fmt.Fprintf(out, "Owner:     %s\n", v.Owner)
	}

	fmt.Fprintln(out)
	if active := v.ActiveTask; active != nil && active.Task != nil {
		fmt.Fprintf(out, "Active task %s: %s\n", active.Task.ID, active.Task.Description)
		if active.Category != "" {
			fmt.Fprintf(out, "  Category: %s, chain: %s\n", active.Category, strings.Join(active.Chain, " → "))
		}
		if active.Contract != nil {
			fmt.Fprintf(out, "  Contract: %s, %d criteria\n", active.Contract.Type, len(active.Contract.Criteria))
		}
		if res := active.LatestResult(); res != nil {
			fmt.Fprintf(out, "  Last verification: %s\n", res.Overall)
		}
		if active.Checkpoint != nil {
			fmt.Fprintln(out, "\nCheckpoint")
			fmt.Fprintln(out, operator.RenderSummary(active.Checkpoint.Summarize()))
		}
		if len(v.ChangedFiles) > 0 {
			fmt.Fprintf(out, "Changed since checkpoint: %s\n", strings.Join(v.ChangedFiles, ", "))
		}
		fmt.Fprintln(out, "\nAttempts")
		fmt.Fprintln(out, operator.RenderAttempts(v.AttemptsFor(active.Task.ID)))
	} else {
		fmt.Fprintln(out, "No active task.")
	}

	fmt.Fprintln(out, "\nHistory")
	fmt.Fprintln(out, operator.RenderHistory(v.History))
	if n := len(v.ReviewLog); n > 0 {
		fmt.Fprintf(out, "\n%d advisory output(s) waiting for review.\n", n)
	}
}
