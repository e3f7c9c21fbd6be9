package errors

import (
	"errors"
	"fmt"
	"testing"
)

// -----------------------------------------------------------------------------
// SessionError Tests
// -----------------------------------------------------------------------------

func TestSessionError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SessionError
		want string
	}{
		{
			name: "with session id and cause",
			err:  NewSessionError("cannot take over session", ErrSessionActive).WithSessionID("abc123"),
			want: "session error [session=abc123]: cannot take over session: session is active",
		},
		{
			name: "no context",
			err:  NewSessionError("boom", nil),
			want: "session error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionError_Is(t *testing.T) {
	err := NewSessionError("load failed", ErrSessionNotFound)

	if !errors.Is(err, ErrSessionNotFound) {
		t.Error("should match wrapped sentinel")
	}
	if !errors.Is(err, &SessionError{}) {
		t.Error("should match any *SessionError")
	}
	if errors.Is(err, ErrNoActiveTask) {
		t.Error("should not match unrelated sentinel")
	}
}

// -----------------------------------------------------------------------------
// TaskError Tests
// -----------------------------------------------------------------------------

func TestTaskError_Error(t *testing.T) {
	err := NewTaskError("executor exited", fmt.Errorf("exit status 2")).
		WithTaskID("task-1").
		WithExecutor("claude").
		WithClass(ClassCrash)

	want := "task error [task=task-1, executor=claude, class=crash]: executor exited: exit status 2"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTaskError_WithClass(t *testing.T) {
	tests := []struct {
		class     Class
		retryable bool
	}{
		{ClassTransient, true},
		{ClassFreshContext, false},
		{ClassVerification, false},
		{ClassCrash, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			err := NewTaskError("failed", nil).WithClass(tt.class)
			if got := ClassOf(err); got != tt.class {
				t.Errorf("ClassOf() = %q, want %q", got, tt.class)
			}
			if got := IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestNewTaskError_DefaultsToCrash(t *testing.T) {
	if got := ClassOf(NewTaskError("x", nil)); got != ClassCrash {
		t.Errorf("ClassOf() = %q, want %q", got, ClassCrash)
	}
}

// -----------------------------------------------------------------------------
// PersistenceError Tests
// -----------------------------------------------------------------------------

func TestPersistenceError(t *testing.T) {
	err := NewPersistenceError("write failed", nil).WithKey("default").WithOperation("save")

	if !errors.Is(err, ErrBackendUnavailable) {
		t.Error("should match ErrBackendUnavailable")
	}
	if !IsPersistence(err) {
		t.Error("IsPersistence() = false, want true")
	}
	if IsRetryable(err) {
		t.Error("persistence errors degrade, they are not retried")
	}

	want := "persistence error [op=save, key=default]: write failed: persistence backend unavailable"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPersistenceError_WrappedStillClassified(t *testing.T) {
	base := NewPersistenceError("rename failed", fmt.Errorf("disk full"))
	wrapped := fmt.Errorf("saving session: %w", base)

	if !IsPersistence(wrapped) {
		t.Error("wrapped persistence error should still classify")
	}
	if !errors.Is(wrapped, ErrBackendUnavailable) {
		t.Error("wrapped persistence error should match ErrBackendUnavailable")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{"message only", NewValidationError("bad"), "validation error: bad"},
		{"field", NewValidationError("required").WithField("task.id"), "validation error: task.id: required"},
		{"field and value", NewValidationError("must be positive").WithField("retry.max_retries").WithValue(-1),
			"validation error: retry.max_retries: must be positive (got -1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"plain", errors.New("x"), ClassNone},
		{"bare backend sentinel", fmt.Errorf("open: %w", ErrBackendUnavailable), ClassPersistence},
		{"task transient", NewTaskError("429", nil).WithClass(ClassTransient), ClassTransient},
		{"session error has no class", NewSessionError("x", nil), ClassNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("429"), false},
		{"transient", NewTaskError("rate limited", nil).WithClass(ClassTransient), true},
		{"wrapped transient", fmt.Errorf("delegate: %w", NewTaskError("429", nil).WithClass(ClassTransient)), true},
		{"crash", NewTaskError("exit 1", nil), false},
		{"persistence", NewPersistenceError("save", nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
