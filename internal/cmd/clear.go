package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a session record",
	Long: `Delete a session record from the persistence backend.

A session with an active task is kept unless --force is given, since its
checkpoint is what a later run would resume from.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

var clearForce bool

func init() {
	clearCmd.Flags().BoolVar(&clearForce, "force", false, "delete even if a task is active")
}

func runClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	id := targetSession(a.cfg)
	rec, err := a.engine.Sessions().Inspect(ctx, id)
	if err != nil {
		return err
	}
	if rec.ActiveTask != nil && rec.ActiveTask.Task != nil && !clearForce {
		return fmt.Errorf("session %s has active task %s; use --force to delete it anyway", id, rec.ActiveTask.Task.ID)
	}
	if err := a.engine.Sessions().Clear(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s.\n", id)
	return nil
}
