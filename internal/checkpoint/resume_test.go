package checkpoint

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/handoff/internal/task"
)

func TestDetectStaleness(t *testing.T) {
	updated := epoch.Add(time.Hour)
	cp := &Checkpoint{
		CompletedSteps: []CompletedStep{
			{Step: "a", FilesTouched: []string{"a.go", "shared.go"}},
			{Step: "b", FilesTouched: []string{"b.go"}},
		},
		Metadata: Metadata{LastUpdatedAt: updated},
	}

	tests := []struct {
		name       string
		timestamps map[string]time.Time
		wantStale  bool
		wantFiles  []string
	}{
		{"no timestamps", nil, false, nil},
		{"all older", map[string]time.Time{"a.go": epoch, "b.go": epoch}, false, nil},
		{"equal is not stale", map[string]time.Time{"a.go": updated}, false, nil},
		{"one newer", map[string]time.Time{"b.go": updated.Add(time.Second), "a.go": epoch}, true, []string{"b.go"}},
		{"unreferenced newer file ignored", map[string]time.Time{"other.go": updated.Add(time.Hour)}, false, nil},
		{"several newer sorted", map[string]time.Time{"shared.go": updated.Add(time.Minute), "a.go": updated.Add(time.Minute)}, true, []string{"a.go", "shared.go"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectStaleness(cp, tt.timestamps); got != tt.wantStale {
				t.Errorf("DetectStaleness() = %v, want %v", got, tt.wantStale)
			}
			if diff := cmp.Diff(tt.wantFiles, StaleFiles(cp, tt.timestamps)); diff != "" {
				t.Errorf("StaleFiles mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManager_FileTimestamps(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/work/a.go", []byte("a"), 0644)
	_ = fs.Chtimes("/work/a.go", epoch, epoch.Add(time.Hour))

	m := NewManager(DefaultLimits(), WithFs(fs), WithWorkDir("/work"), WithClock(stepClock(epoch)))
	cp := &Checkpoint{CompletedSteps: []CompletedStep{{Step: "a", FilesTouched: []string{"a.go", "missing.go"}}}}

	ts, err := m.FileTimestamps(cp)
	if err != nil {
		t.Fatalf("FileTimestamps: %v", err)
	}
	if len(ts) != 1 || !ts["a.go"].Equal(epoch.Add(time.Hour)) {
		t.Errorf("FileTimestamps() = %v", ts)
	}
}

func TestManager_BuildResumeContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManager(DefaultLimits(), WithFs(fs), WithWorkDir("/work"), WithClock(stepClock(epoch)))

	tk := task.New("t1", "Add validation to signup form", "SignupForm.ui")
	tk.Steps = []string{"schema", "form", "tests"}
	cp := m.Create(tk, "claude")
	m.RecordStepComplete(cp, "schema", "schema.ts")
	m.RecordDecision(cp, "use zod", "already a dependency")
	m.StartStep(cp, "form")
	m.SnapshotOnInterrupt(cp, ReasonRateLimited, "half of the fields wired", "claude")

	t.Run("fresh files", func(t *testing.T) {
		_ = afero.WriteFile(fs, "/work/schema.ts", []byte("x"), 0644)
		_ = fs.Chtimes("/work/schema.ts", epoch, epoch)

		rc := m.BuildResumeContext(cp, tk)
		if rc.Stale || len(rc.FilesToReverify) != 0 {
			t.Errorf("unexpected staleness: %+v", rc.FilesToReverify)
		}
		if rc.Description != tk.Description || rc.Reason != ReasonRateLimited {
			t.Errorf("rc = %+v", rc)
		}
		if diff := cmp.Diff([]string{"form", "tests"}, rc.PendingSteps); diff != "" {
			t.Errorf("PendingSteps mismatch:\n%s", diff)
		}
		if len(rc.SettledDecisions) != 1 || rc.SettledDecisions[0].Decision != "use zod" {
			t.Errorf("SettledDecisions = %+v", rc.SettledDecisions)
		}
		if rc.CurrentStep == nil || rc.CurrentStep.PartialWork != "half of the fields wired" {
			t.Errorf("CurrentStep = %+v", rc.CurrentStep)
		}
		if rc.Empty() {
			t.Error("Empty() = true")
		}
	})

	t.Run("file modified after checkpoint", func(t *testing.T) {
		later := cp.Metadata.LastUpdatedAt.Add(time.Minute)
		_ = fs.Chtimes("/work/schema.ts", later, later)

		rc := m.BuildResumeContext(cp, tk)
		if !rc.Stale {
			t.Error("expected stale resume context")
		}
		if diff := cmp.Diff([]string{"schema.ts"}, rc.FilesToReverify); diff != "" {
			t.Errorf("FilesToReverify mismatch:\n%s", diff)
		}
	})

	t.Run("context does not alias checkpoint", func(t *testing.T) {
		rc := m.BuildResumeContext(cp, tk)
		rc.PendingSteps[0] = "mutated"
		if cp.PendingSteps[0] != "form" {
			t.Error("resume context aliases checkpoint slices")
		}
	})
}

func TestResumeContext_Empty(t *testing.T) {
	var rc *ResumeContext
	if !rc.Empty() {
		t.Error("nil context should be empty")
	}
	if !(&ResumeContext{PendingSteps: []string{"a"}}).Empty() {
		t.Error("context with only pending steps carries no progress")
	}
}
