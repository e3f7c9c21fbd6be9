package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Decide what to do with an unfinished task",
	Long: `Load the session and, if it has a task left active by an earlier run,
show its attempts and checkpoint and ask whether to resume, restart,
switch to another task or abandon it.

The task is never resumed without asking. In non-interactive mode the
configured operator.non_interactive_resume decision is used.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{progress: true, watch: true, serveMetrics: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	s, err := a.engine.Open(ctx, targetSession(a.cfg))
	if err != nil {
		return err
	}
	outcome, err := resumeUnfinished(ctx, out, a.engine)
	if err != nil {
		return err
	}
	if outcome == nil {
		fmt.Fprintf(out, "No unfinished task in session %s.\n", s.SessionID)
	}
	return nil
}
