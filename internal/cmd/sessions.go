package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, or take over a stale one",
	Long: `List every session record in the persistence backend with its heartbeat
and active task. A session is stale once its heartbeat is older than
session.timeout_minutes.

Use --takeover to claim a stale session left behind by a crashed process;
its unfinished task then goes through the usual resume decision.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var (
	sessionsStaleOnly bool
	sessionsJSON      bool
	sessionsTakeover  string
)

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsStaleOnly, "stale", false, "only list stale sessions")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "print as JSON")
	sessionsCmd.Flags().StringVar(&sessionsTakeover, "takeover", "", "claim the stale session with this id")
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{progress: sessionsTakeover != "", watch: sessionsTakeover != ""})
	if err != nil {
		return err
	}
	defer a.close()

	if sessionsTakeover != "" {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := a.engine.Takeover(ctx, sessionsTakeover)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Claimed session %s.\n", s.SessionID)
		outcome, err := resumeUnfinished(ctx, out, a.engine)
		if err != nil {
			return err
		}
		if outcome == nil {
			fmt.Fprintln(out, "It has no unfinished task.")
		}
		return nil
	}

	var infos []session.Info
	if sessionsStaleOnly {
		infos, err = a.engine.Sessions().FindStaleSessions(cmd.Context())
	} else {
		infos, err = a.engine.Sessions().ListSessions(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if sessionsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	printSessions(cmd.OutOrStdout(), infos)
	return nil
}

func printSessions(out io.Writer, infos []session.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tHEARTBEAT\tSTATE\tACTIVE TASK\tATTEMPTS\tFINISHED")
	for _, info := range infos {
		state := "live"
		switch {
		case info.Stale:
			state = "stale"
		case info.Owner != nil && !info.OwnerAlive:
			state = "orphaned"
		}
		active := info.ActiveTaskID
		if active == "" {
			active = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			info.ID,
			info.LastHeartbeat.Format(time.DateTime),
			state,
			active,
			info.Attempts,
			info.Finished,
		)
	}
	_ = w.Flush()
}
