package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/handoff/internal/orchestrator"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
)

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Delegate a task, or a batch of tasks, to the executors",
	Long: `Delegate a task to the executors of its fallback chain and drive it
until its verification contract passes or the operator decides.

If the session has an unfinished task from an earlier run you are asked
what to do with it first.

Examples:
  # One task with artifact hints
  handoff run "Add input validation to signup form" -a src/SignupForm.tsx

  # A batch from a file
  handoff run --file tasks.yaml

The batch file lists tasks in order:

  tasks:
    - description: Add rate limiting to the login endpoint
      artifacts: [api/login.go]
      steps: [add limiter, add tests]
    - id: docs-1
      description: Document the limiter settings

Interrupting a run (Ctrl-C) snapshots the running task and stops the batch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runArtifacts []string
	runSteps     []string
	runTaskID    string
	runFile      string
)

func init() {
	runCmd.Flags().StringSliceVarP(&runArtifacts, "artifact", "a", nil, "expected artifact path (repeatable)")
	runCmd.Flags().StringArrayVar(&runSteps, "step", nil, "declared step (repeatable, in order)")
	runCmd.Flags().StringVar(&runTaskID, "id", "", "task id (default: generated)")
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "batch file of tasks (yaml)")
}

// taskSpec is one entry of a batch file.
type taskSpec struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Artifacts   []string `yaml:"artifacts"`
	Steps       []string `yaml:"steps"`
}

type taskFile struct {
	Tasks []taskSpec `yaml:"tasks"`
}

// parseTaskFile decodes a batch file. Ids are left empty when not given.
func parseTaskFile(r io.Reader) ([]*task.Task, error) {
	var f taskFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("batch file is empty")
		}
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("batch file lists no tasks")
	}

	seen := make(map[string]bool)
	tasks := make([]*task.Task, 0, len(f.Tasks))
	for i, spec := range f.Tasks {
		if strings.TrimSpace(spec.Description) == "" {
			return nil, fmt.Errorf("task %d: description is required", i+1)
		}
		if spec.ID != "" {
			if seen[spec.ID] {
				return nil, fmt.Errorf("task %d: duplicate id %q", i+1, spec.ID)
			}
			seen[spec.ID] = true
		}
		t := task.New(spec.ID, spec.Description, spec.Artifacts...)
		t.Steps = spec.Steps
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func tasksFromArgs(args []string) ([]*task.Task, error) {
	if runFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("give either a description or --file, not both")
		}
		f, err := os.Open(runFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		return parseTaskFile(f)
	}
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, fmt.Errorf("a task description or --file is required")
	}
	t := task.New(runTaskID, args[0], runArtifacts...)
	t.Steps = runSteps
	return []*task.Task{t}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	tasks, err := tasksFromArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp(cmd, appOptions{progress: true, watch: true, serveMetrics: true})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	s, err := a.engine.Open(ctx, runSession(a.cfg))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s\n", s.SessionID)

	if _, err := resumeUnfinished(ctx, out, a.engine); err != nil {
		return err
	}

	batch, err := a.engine.RunBatch(ctx, tasks)
	printBatch(out, batch)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, "Interrupted.")
			return nil
		}
		return err
	}
	if failed := batch.Counts()[task.StatusFailed]; failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(batch.Reports))
	}
	return nil
}

// resumeUnfinished asks the operator about a task left active by an
// earlier run and prints what happened to it.
func resumeUnfinished(ctx context.Context, out io.Writer, e *orchestrator.Engine) (*orchestrator.ResumeOutcome, error) {
	outcome, err := e.Resume(ctx)
	if err != nil || outcome == nil {
		return outcome, err
	}
	switch outcome.Decision {
	case session.DecisionSwitchTask:
		fmt.Fprintf(out, "Task %s set aside.\n", outcome.Task.ID)
	case session.DecisionAbandon:
		fmt.Fprintf(out, "Task %s abandoned.\n", outcome.Task.ID)
	}
	if outcome.Report != nil {
		printReport(out, *outcome.Report)
	}
	return outcome, nil
}

func printReport(out io.Writer, rep reassign.Report) {
	line := fmt.Sprintf("%s: %s", rep.TaskID, rep.Status)
	if rep.Executor != "" {
		line += " by " + rep.Executor
	}
	line += fmt.Sprintf(" after %d attempt(s)", rep.Attempts)
	if rep.Escalations > 0 {
		line += fmt.Sprintf(", %d escalation(s)", rep.Escalations)
	}
	if rep.Reason != "" {
		line += " (" + rep.Reason + ")"
	}
	fmt.Fprintln(out, line)
}

func printBatch(out io.Writer, batch orchestrator.BatchReport) {
	for _, rep := range batch.Reports {
		printReport(out, rep)
	}
	if len(batch.Reports) > 1 {
		counts := batch.Counts()
		fmt.Fprintf(out, "\n%d completed, %d failed, %d skipped\n",
			counts[task.StatusCompleted], counts[task.StatusFailed], counts[task.StatusSkipped])
	}
	if batch.Abandoned {
		fmt.Fprintln(out, "Batch abandoned by operator.")
	}
	if len(batch.Remaining) > 0 {
		fmt.Fprintf(out, "Not started: %s\n", strings.Join(batch.Remaining, ", "))
	}
}
