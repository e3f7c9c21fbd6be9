package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/errors"
)

func shell(script string) []string {
	return []string{"sh", "-c", script}
}

func TestCommandExecutor_Execute(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantStatus Status
		wantFiles  []string
		wantErr    string
	}{
		{
			name:       "success",
			script:     `grep -q '"task_id":"t1"' && echo '{"status":"success","files_changed":["a.go"]}'`,
			wantStatus: StatusSuccess,
			wantFiles:  []string{"a.go"},
		},
		{
			name:       "reported failure",
			script:     `cat >/dev/null; echo '{"status":"failure","error":"429 Too Many Requests"}'`,
			wantStatus: StatusFailure,
		},
		{
			name:       "missing status is a failure",
			script:     `cat >/dev/null; echo '{}'`,
			wantStatus: StatusFailure,
		},
		{
			name:    "non-zero exit",
			script:  `cat >/dev/null; echo 'rate limit exceeded' >&2; exit 3`,
			wantErr: "rate limit exceeded",
		},
		{
			name:    "malformed output",
			script:  `cat >/dev/null; echo 'not json'`,
			wantErr: "malformed output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewCommandExecutor("sh", CommandConfig{Command: shell(tt.script)}, nil)
			if err != nil {
				t.Fatalf("NewCommandExecutor: %v", err)
			}
			resp, err := e.Execute(context.Background(), Request{TaskID: "t1", TaskDescription: "do it"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
				}
				if errors.ClassOf(err) != errors.ClassCrash {
					t.Errorf("class = %q, want crash", errors.ClassOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if diff := cmp.Diff(tt.wantFiles, resp.FilesChanged); diff != "" {
				t.Errorf("FilesChanged mismatch:\n%s", diff)
			}
		})
	}
}

func TestCommandExecutor_Cancelled(t *testing.T) {
	e, _ := NewCommandExecutor("slow", CommandConfig{Command: shell("exec sleep 5")}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := e.Execute(ctx, Request{TaskID: "t1"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestNewCommandExecutor_EmptyCommand(t *testing.T) {
	if _, err := NewCommandExecutor("x", CommandConfig{}, nil); !errors.Is(err, &errors.ValidationError{}) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestResponse_Progress(t *testing.T) {
	resp := Response{
		StepsCompleted: []checkpoint.StepReport{{Step: "schema", Files: []string{"schema.ts"}}},
		Decisions:      []checkpoint.Decision{{Decision: "use zod", Rationale: "present", Timestamp: time.Now()}},
		Blockers:       []string{"flaky CI"},
		PartialWork:    "half",
	}
	p := resp.Progress()
	if len(p.StepsCompleted) != 1 || p.PartialWork != "half" || len(p.Blockers) != 1 {
		t.Errorf("Progress() = %+v", p)
	}
	if !p.Decisions[0].Timestamp.IsZero() {
		t.Error("executor timestamps must not reach the checkpoint")
	}
}

func TestCommandChecker_Check(t *testing.T) {
	checker := NewCommandChecker(map[contract.Activity]CommandConfig{
		contract.ActivityTypecheck: {Command: shell("exit 0")},
		contract.ActivityLint:      {Command: shell("echo 'unused variable'; exit 1")},
		contract.ActivityUnitTest:  {Command: []string{"sh", "-c", `test "$0" = SignupForm`, "{pattern}"}},
		contract.ActivityE2ETest:   {Command: []string{"handoff-no-such-binary-xyz"}},
	}, nil)

	tests := []struct {
		name       string
		crit       contract.Criterion
		wantStatus contract.Status
		wantDetail string
		wantErr    bool
	}{
		{"pass", contract.Criterion{Activity: contract.ActivityTypecheck}, contract.StatusPass, "", false},
		{"fail with output", contract.Criterion{Activity: contract.ActivityLint}, contract.StatusFail, "unused variable", false},
		{"placeholder expanded", contract.Criterion{Activity: contract.ActivityUnitTest, Pattern: "SignupForm"}, contract.StatusPass, "", false},
		{"placeholder mismatch", contract.Criterion{Activity: contract.ActivityUnitTest, Pattern: "Other"}, contract.StatusFail, "", false},
		{"cannot start", contract.Criterion{Activity: contract.ActivityE2ETest}, "", "", true},
		{"not configured", contract.Criterion{Activity: "security-scan"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := checker.Check(context.Background(), "claude", tt.crit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", res.Status, tt.wantStatus)
			}
			if res.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", res.Detail, tt.wantDetail)
			}
		})
	}
}

func TestExpandArgs(t *testing.T) {
	got := ExpandArgs(
		[]string{"npm", "test", "--", "-t", "{pattern}", "--when={timing}", "--as={executor}"},
		contract.Criterion{Activity: contract.ActivityUnitTest, Pattern: "SignupForm", Timing: "immediate"},
		"claude",
	)
	want := []string{"npm", "test", "--", "-t", "SignupForm", "--when=immediate", "--as=claude"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExpandArgs mismatch (-want +got):\n%s", diff)
	}
}

type namedExecutor string

func (n namedExecutor) Name() string { return string(n) }
func (n namedExecutor) Execute(context.Context, Request) (Response, error) {
	return Response{Status: StatusSuccess}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(namedExecutor("codex"), namedExecutor("claude"))

	if diff := cmp.Diff([]string{"claude", "codex"}, r.Names()); diff != "" {
		t.Errorf("Names mismatch:\n%s", diff)
	}
	if _, err := r.Get("claude"); err != nil {
		t.Errorf("Get(claude): %v", err)
	}
	_, err := r.Get("gemini")
	if !errors.Is(err, errors.ErrExecutorNotRegistered) {
		t.Errorf("Get(gemini) err = %v, want ErrExecutorNotRegistered", err)
	}
	if diff := cmp.Diff([]string{"gemini"}, r.Missing([]string{"claude", "gemini", "gemini"})); diff != "" {
		t.Errorf("Missing mismatch:\n%s", diff)
	}
}
