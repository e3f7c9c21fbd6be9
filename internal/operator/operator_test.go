package operator

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/task"
)

func samplePrompt() session.ResumePrompt {
	return session.ResumePrompt{
		SessionID: "default",
		Task:      *task.New("task-7", "Add input validation to signup form", "SignupForm.ui"),
		Attempts: []task.Attempt{
			{Executor: "claude", Outcome: task.OutcomeRateLimited, Error: "429 Too Many Requests"},
		},
		Checkpoint: checkpoint.Summary{
			Phase:          checkpoint.PhaseInterrupted,
			CompletedCount: 2,
			PendingCount:   1,
			LastDecision:   "validate on blur",
		},
		Stale:         true,
		LastHeartbeat: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		StaleFiles:    []string{"SignupForm.ui"},
	}
}

func sampleEscalation() reassign.Escalation {
	return reassign.Escalation{
		TaskID:   "task-7",
		Task:     *task.New("task-7", "Add input validation to signup form"),
		Category: fallback.CategoryInteractive,
		Chain:    []string{"claude", "codex"},
		Attempts: []task.Attempt{
			{Executor: "claude", Outcome: task.OutcomeVerificationFailed},
			{Executor: "codex", Outcome: task.OutcomeCrashed, Error: "panic: nil map"},
		},
		LastOutcome: task.OutcomeCrashed,
		Resume:      &checkpoint.ResumeContext{TaskID: "task-7"},
		Round:       1,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"Picker", ModePicker, false},
		{"line", ModeLine, false},
		{"none", ModeNonInteractive, false},
		{"gui", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestNew_AutoFallsBackToLine(t *testing.T) {
	o := New(strings.NewReader(""), &bytes.Buffer{})
	if o.Mode() != ModeLine {
		t.Errorf("Mode() = %s, want line for non-terminal streams", o.Mode())
	}
}

func TestChooseResume_Line(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  session.Decision
	}{
		{"by number", "2\n", session.DecisionRestart},
		{"by name", "abandon\n", session.DecisionAbandon},
		{"by prefix", "sw\n", session.DecisionSwitchTask},
		{"empty picks default", "\n", session.DecisionResume},
		{"end of input picks default", "", session.DecisionResume},
		{"reprompts after garbage", "9\nxyz\n1\n", session.DecisionResume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			o := New(strings.NewReader(tt.input), &out, WithMode(ModeLine))
			got, err := o.ChooseResume(context.Background(), samplePrompt())
			if err != nil {
				t.Fatalf("ChooseResume() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ChooseResume() = %s, want %s", got, tt.want)
			}
			for _, want := range []string{"task-7", "2 completed, 1 pending", "validate on blur", "rate_limited", "SignupForm.ui"} {
				if !strings.Contains(out.String(), want) {
					t.Errorf("prompt output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestEscalate_LineWithApproach(t *testing.T) {
	var out bytes.Buffer
	o := New(strings.NewReader("1\nvalidate per field\n"), &out, WithMode(ModeLine))
	resp, err := o.Escalate(context.Background(), sampleEscalation())
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if resp.Choice != reassign.ChoiceRetryDifferentApproach || resp.Approach != "validate per field" {
		t.Errorf("Escalate() = %+v", resp)
	}
	for _, want := range []string{"claude", "codex", "verification_failed", "panic: nil map", "interactive"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("escalation output missing %q", want)
		}
	}
}

func TestEscalate_TakeOverPrintsResumeContext(t *testing.T) {
	var out bytes.Buffer
	o := New(strings.NewReader("take_over\n"), &out, WithMode(ModeLine))
	resp, err := o.Escalate(context.Background(), sampleEscalation())
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if resp.Choice != reassign.ChoiceTakeOver {
		t.Errorf("choice = %s", resp.Choice)
	}
	if !strings.Contains(out.String(), `"task_id": "task-7"`) {
		t.Errorf("take over should print the resume context:\n%s", out.String())
	}
}

func TestEscalate_NonInteractiveDefault(t *testing.T) {
	var out bytes.Buffer
	o := New(strings.NewReader("1\n"), &out,
		WithMode(ModeNonInteractive),
		WithEscalationDefault(reassign.ChoiceAbandon),
	)
	resp, err := o.Escalate(context.Background(), sampleEscalation())
	if err != nil {
		t.Fatalf("Escalate() error = %v", err)
	}
	if resp.Choice != reassign.ChoiceAbandon {
		t.Errorf("choice = %s, want abandon", resp.Choice)
	}
}

func TestEscalate_GarbageAtEndOfInput(t *testing.T) {
	o := New(strings.NewReader("nonsense"), &bytes.Buffer{}, WithMode(ModeLine))
	_, err := o.Escalate(context.Background(), sampleEscalation())
	if !errors.Is(err, errors.ErrInvalidDecision) {
		t.Errorf("Escalate() error = %v, want ErrInvalidDecision", err)
	}
}

func TestChooseResume_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New(blockingReader{}, &bytes.Buffer{}, WithMode(ModeLine))
	if _, err := o.ChooseResume(ctx, samplePrompt()); !errors.Is(err, context.Canceled) {
		t.Errorf("ChooseResume() error = %v, want context.Canceled", err)
	}
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) {
	select {}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func press(m Picker, keys ...string) Picker {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(Picker)
	}
	return m
}

func escalationOptions() []option {
	var opts []option
	for _, c := range reassign.Choices() {
		opts = append(opts, option{value: string(c), desc: c.Describe(), note: c == reassign.ChoiceRetryDifferentApproach})
	}
	return opts
}

func TestPicker(t *testing.T) {
	tests := []struct {
		name      string
		keys      []string
		wantValue string
		wantNote  string
		wantOK    bool
	}{
		{"enter keeps initial", []string{"enter"}, "skip", "", true},
		{"arrow keys", []string{"down", "enter"}, "abandon", "", true},
		{"cursor stops at the end", []string{"down", "down", "down", "enter"}, "abandon", "", true},
		{"number quick pick", []string{"2"}, "take_over", "", true},
		{"note entry", []string{"1", "s", "p", "l", "i", "t", "enter"}, "retry_different_approach", "split", true},
		{"esc leaves note entry", []string{"1", "esc", "up", "enter"}, "", "", false},
		{"quit cancels", []string{"q"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := press(newPicker("header", escalationOptions(), 2), tt.keys...)
			value, note, ok := m.Selected()
			if ok != tt.wantOK || value != tt.wantValue || note != tt.wantNote {
				t.Errorf("Selected() = (%q, %q, %v), want (%q, %q, %v)", value, note, ok, tt.wantValue, tt.wantNote, tt.wantOK)
			}
		})
	}
}

func TestPicker_View(t *testing.T) {
	m := newPicker("Escalation header", escalationOptions(), 0)
	view := m.View()
	for _, want := range []string{"Escalation header", "retry_different_approach", "abandon", "enter select"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
	m = press(m, "enter")
	if !strings.Contains(m.View(), "esc back") {
		t.Error("note entry view should show its help line")
	}
}
