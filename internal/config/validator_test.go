package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/fallback"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{
			name:      "zero session timeout",
			modify:    func(c *Config) { c.Session.TimeoutMinutes = 0 },
			wantField: "session.timeout_minutes",
		},
		{
			name:      "session id with path separator",
			modify:    func(c *Config) { c.Session.ID = "../etc" },
			wantField: "session.id",
		},
		{
			name:      "unknown backend",
			modify:    func(c *Config) { c.Persistence.Backend = "redis" },
			wantField: "persistence.backend",
		},
		{
			name: "sqlite without path",
			modify: func(c *Config) {
				c.Persistence.Backend = "sqlite"
				c.Persistence.SQLitePath = ""
			},
			wantField: "persistence.sqlite_path",
		},
		{
			name:      "negative retries",
			modify:    func(c *Config) { c.Retry.MaxRetries = -1 },
			wantField: "retry.max_retries",
		},
		{
			name:      "zero initial delay",
			modify:    func(c *Config) { c.Retry.InitialDelay = 0 },
			wantField: "retry.initial_delay",
		},
		{
			name:      "shrinking multiplier",
			modify:    func(c *Config) { c.Retry.Multiplier = 0.5 },
			wantField: "retry.multiplier",
		},
		{
			name:      "max delay below initial",
			modify:    func(c *Config) { c.Retry.MaxDelay = time.Second },
			wantField: "retry.max_delay",
		},
		{
			name:      "negative fresh attempts",
			modify:    func(c *Config) { c.Overflow.MaxFreshAttempts = -1 },
			wantField: "overflow.max_fresh_attempts",
		},
		{
			name:      "tiny checkpoint budget",
			modify:    func(c *Config) { c.Checkpoint.MaxBytes = 100 },
			wantField: "checkpoint.max_bytes",
		},
		{
			name:      "zero completed steps",
			modify:    func(c *Config) { c.Checkpoint.MaxCompletedSteps = 0 },
			wantField: "checkpoint.max_completed_steps",
		},
		{
			name:      "zero check attempts",
			modify:    func(c *Config) { c.Verification.CheckAttempts = 0 },
			wantField: "verification.check_attempts",
		},
		{
			name:      "bad glob",
			modify:    func(c *Config) { c.Fallback.Categories = map[string][]string{"mobile": {"[abc"}} },
			wantField: "fallback.categories.mobile",
		},
		{
			name:      "no general chain",
			modify:    func(c *Config) { delete(c.Fallback.Chains, "general") },
			wantField: "fallback.chains.general",
		},
		{
			name: "override without executors",
			modify: func(c *Config) {
				c.Fallback.Overrides = fallback.Overrides{"backend": {Override: true}}
			},
			wantField: "fallback.overrides.backend.executors",
		},
		{
			name: "executor without command",
			modify: func(c *Config) {
				c.Executors = map[string]executor.CommandConfig{"claude": {}}
			},
			wantField: "executors.claude.command",
		},
		{
			name: "check with sub-second timeout",
			modify: func(c *Config) {
				c.Checks = map[string]executor.CommandConfig{"test": {Command: []string{"go", "test"}, Timeout: time.Millisecond}}
			},
			wantField: "checks.test.timeout",
		},
		{
			name:      "unknown operator mode",
			modify:    func(c *Config) { c.Operator.Mode = "gui" },
			wantField: "operator.mode",
		},
		{
			name:      "unknown escalation default",
			modify:    func(c *Config) { c.Operator.NonInteractiveChoice = "retry" },
			wantField: "operator.non_interactive_choice",
		},
		{
			name:      "unknown resume default",
			modify:    func(c *Config) { c.Operator.NonInteractiveResume = "continue" },
			wantField: "operator.non_interactive_resume",
		},
		{
			name:      "unknown log level",
			modify:    func(c *Config) { c.Logging.Level = "trace" },
			wantField: "logging.level",
		},
		{
			name:      "zero log size",
			modify:    func(c *Config) { c.Logging.MaxSizeMB = 0 },
			wantField: "logging.max_size_mb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()

			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() = %v, want an error for %s", errs, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_RetriesDisabled(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxRetries = 0
	cfg.Retry.InitialDelay = 0
	cfg.Retry.MaxDelay = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("disabling retries should be valid, got %v", errs)
	}
}
