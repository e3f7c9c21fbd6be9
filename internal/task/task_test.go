package task

import (
	"strings"
	"testing"
	"time"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tk := New("task-1", "Add validation", "SignupForm.ui")
	if tk.Status != StatusPending {
		t.Errorf("Status = %q, want %q", tk.Status, StatusPending)
	}
	if len(tk.ExpectedArtifacts) != 1 || tk.ExpectedArtifacts[0] != "SignupForm.ui" {
		t.Errorf("ExpectedArtifacts = %v", tk.ExpectedArtifacts)
	}
}

func TestAttempt_OpenClose(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := Open("att-1", "task-1", "claude", 2, start)
	if a.Closed() {
		t.Fatal("new attempt should not be closed")
	}

	closed := a.Close(OutcomeRateLimited, "429 too many requests", start.Add(time.Minute))
	if !closed.Closed() {
		t.Fatal("Close() should produce a closed attempt")
	}
	if a.Closed() {
		t.Error("Close() must not mutate the original attempt")
	}
	if closed.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", closed.RetryCount)
	}

	s := closed.String()
	if !strings.Contains(s, "rate_limited") || !strings.Contains(s, "429") {
		t.Errorf("String() = %q, want outcome and error", s)
	}
}
