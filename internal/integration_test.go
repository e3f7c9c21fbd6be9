// Package internal contains integration tests that drive the engine through
// its public wiring: configuration, a real persistence backend, the event
// bus and the recovery controller together.
package internal

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/orchestrator"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
	"github.com/Iron-Ham/handoff/internal/testutil"
)

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	r.types = append(r.types, e.EventType())
	r.mu.Unlock()
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

func build(t *testing.T, cfg *config.Config, base string, bus *event.Bus, execs ...executor.Executor) *orchestrator.Engine {
	t.Helper()
	e, err := orchestrator.Build(context.Background(), cfg, orchestrator.BuildOptions{
		BaseDir:   base,
		Bus:       bus,
		Metrics:   prometheus.NewRegistry(),
		Executors: execs,
		Checker:   testutil.NewScriptedChecker(),
		Sleeper:   &testutil.InstantSleeper{},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return e
}

// TestRateLimitFallbackSurvivesRestart runs a task whose first executor is
// rate limited past its retry budget, then reopens the sqlite store from a
// new engine and checks that the attempts and history were persisted.
func TestRateLimitFallbackSurvivesRestart(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Persistence.Backend = "sqlite"
	cfg.Retry.MaxRetries = 1
	cfg.Fallback.OverridesFile = ""

	rec := &recorder{}
	bus := event.NewBus(nil)
	bus.SubscribeAll(rec.handle)

	claude := testutil.NewScriptedExecutor("claude", testutil.RateLimited())
	codex := testutil.NewScriptedExecutor("codex", testutil.Succeed("SignupForm.ui"))
	e := build(t, cfg, base, bus, claude, codex)

	if _, err := e.Open(context.Background(), ""); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rep, err := e.Submit(context.Background(), task.New("task-1", "Add input validation to signup form", "SignupForm.ui"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rep.Status != task.StatusCompleted || rep.Executor != "codex" {
		t.Errorf("Submit() = %+v, want completed by codex", rep)
	}
	if claude.Calls() != 2 || codex.Calls() != 1 {
		t.Errorf("calls = claude %d, codex %d; want 2 and 1", claude.Calls(), codex.Calls())
	}
	if rec.count(event.TypeRetryScheduled) != 1 || rec.count(event.TypeExecutorSwitched) != 1 {
		t.Errorf("events = %v", rec.types)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := build(t, cfg, base, nil)
	defer func() { _ = reopened.Close() }()
	r, err := reopened.Sessions().Inspect(context.Background(), session.DefaultID)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if r.ActiveTask != nil {
		t.Errorf("active task = %+v, want none", r.ActiveTask)
	}

	var executors []string
	var outcomes []task.Outcome
	for _, a := range r.AttemptsFor("task-1") {
		executors = append(executors, a.Executor)
		outcomes = append(outcomes, a.Outcome)
	}
	if diff := cmp.Diff([]string{"claude", "claude", "codex"}, executors); diff != "" {
		t.Errorf("attempt executors mismatch (-want +got):\n%s", diff)
	}
	wantOutcomes := []task.Outcome{task.OutcomeRateLimited, task.OutcomeRateLimited, task.OutcomeSuccess}
	if diff := cmp.Diff(wantOutcomes, outcomes); diff != "" {
		t.Errorf("attempt outcomes mismatch (-want +got):\n%s", diff)
	}
	if len(r.History) != 1 || r.History[0].Status != task.StatusCompleted || r.History[0].Checkpoint == nil {
		t.Errorf("history = %+v", r.History)
	}
}
