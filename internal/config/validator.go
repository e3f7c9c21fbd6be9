package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/store"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "retry.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validatePersistence()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateCheckpoint()...)
	errors = append(errors, c.validateVerification()...)
	errors = append(errors, c.validateFallback()...)
	errors = append(errors, c.validateExecutors()...)
	errors = append(errors, c.validateOperator()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.TimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.timeout_minutes",
			Value:   c.Session.TimeoutMinutes,
			Message: "must be at least 1",
		})
	}
	if c.Session.ID != "" {
		if err := store.ValidateKey(c.Session.ID); err != nil {
			errors = append(errors, ValidationError{
				Field:   "session.id",
				Value:   c.Session.ID,
				Message: "may only contain letters, digits, '.', '_' and '-'",
			})
		}
	}

	return errors
}

func (c *Config) validatePersistence() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(store.ValidKinds(), c.Persistence.Backend) {
		errors = append(errors, ValidationError{
			Field:   "persistence.backend",
			Value:   c.Persistence.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(store.ValidKinds(), ", ")),
		})
	}
	if c.Persistence.Backend == string(store.KindFile) && c.Persistence.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "persistence.dir",
			Value:   c.Persistence.Dir,
			Message: "must be set for the file backend",
		})
	}
	if c.Persistence.Backend == string(store.KindSQLite) && c.Persistence.SQLitePath == "" {
		errors = append(errors, ValidationError{
			Field:   "persistence.sqlite_path",
			Value:   c.Persistence.SQLitePath,
			Message: "must be set for the sqlite backend",
		})
	}

	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError

	if c.Retry.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_retries",
			Value:   c.Retry.MaxRetries,
			Message: "must be non-negative",
		})
	}
	if c.Retry.MaxRetries > 0 && c.Retry.InitialDelay <= 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.initial_delay",
			Value:   c.Retry.InitialDelay,
			Message: "must be positive when retries are enabled",
		})
	}
	if c.Retry.Multiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.multiplier",
			Value:   c.Retry.Multiplier,
			Message: "must be at least 1",
		})
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.InitialDelay {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay",
			Value:   c.Retry.MaxDelay,
			Message: fmt.Sprintf("must not be less than retry.initial_delay (%s)", c.Retry.InitialDelay),
		})
	}
	if c.Overflow.MaxFreshAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "overflow.max_fresh_attempts",
			Value:   c.Overflow.MaxFreshAttempts,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateCheckpoint() []ValidationError {
	var errors []ValidationError

	positive := []struct {
		field string
		value int
	}{
		{"checkpoint.max_completed_steps", c.Checkpoint.MaxCompletedSteps},
		{"checkpoint.max_bytes", c.Checkpoint.MaxBytes},
		{"checkpoint.rationale_limit", c.Checkpoint.RationaleLimit},
		{"checkpoint.partial_work_limit", c.Checkpoint.PartialWorkLimit},
	}
	for _, p := range positive {
		if p.value < 1 {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must be at least 1",
			})
		}
	}
	if c.Checkpoint.MaxBytes > 0 && c.Checkpoint.MaxBytes < 1024 {
		errors = append(errors, ValidationError{
			Field:   "checkpoint.max_bytes",
			Value:   c.Checkpoint.MaxBytes,
			Message: "must be at least 1024",
		})
	}

	return errors
}

func (c *Config) validateVerification() []ValidationError {
	var errors []ValidationError

	if c.Verification.CheckAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "verification.check_attempts",
			Value:   c.Verification.CheckAttempts,
			Message: "must be at least 1",
		})
	}
	if c.Verification.Parallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "verification.parallel",
			Value:   c.Verification.Parallel,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateFallback() []ValidationError {
	var errors []ValidationError

	for _, name := range sortedKeys(c.Fallback.Categories) {
		for _, p := range c.Fallback.Categories[name] {
			if _, err := glob.Compile(strings.ToLower(p), '/'); err != nil {
				errors = append(errors, ValidationError{
					Field:   "fallback.categories." + name,
					Value:   p,
					Message: fmt.Sprintf("invalid glob pattern: %v", err),
				})
			}
		}
	}

	if len(c.Fallback.Chains["general"]) == 0 {
		errors = append(errors, ValidationError{
			Field:   "fallback.chains.general",
			Value:   c.Fallback.Chains["general"],
			Message: "must name at least one executor",
		})
	}

	for _, name := range sortedKeys(c.Fallback.Overrides) {
		o := c.Fallback.Overrides[name]
		if o.Override && len(o.Executors) == 0 {
			errors = append(errors, ValidationError{
				Field:   "fallback.overrides." + name + ".executors",
				Value:   o.Executors,
				Message: "must name at least one executor when override is set",
			})
		}
	}

	return errors
}

func (c *Config) validateExecutors() []ValidationError {
	var errors []ValidationError

	for _, name := range sortedKeys(c.Executors) {
		cmd := c.Executors[name]
		if len(cmd.Command) == 0 {
			errors = append(errors, ValidationError{
				Field:   "executors." + name + ".command",
				Value:   cmd.Command,
				Message: "must not be empty",
			})
		}
		if cmd.Timeout < 0 {
			errors = append(errors, ValidationError{
				Field:   "executors." + name + ".timeout",
				Value:   cmd.Timeout,
				Message: "must be non-negative",
			})
		}
	}
	for _, name := range sortedKeys(c.Checks) {
		cmd := c.Checks[name]
		if len(cmd.Command) == 0 {
			errors = append(errors, ValidationError{
				Field:   "checks." + name + ".command",
				Value:   cmd.Command,
				Message: "must not be empty",
			})
		}
		if cmd.Timeout < 0 || (cmd.Timeout > 0 && cmd.Timeout < time.Second) {
			errors = append(errors, ValidationError{
				Field:   "checks." + name + ".timeout",
				Value:   cmd.Timeout,
				Message: "must be zero or at least 1s",
			})
		}
	}

	return errors
}

func (c *Config) validateOperator() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidOperatorModes(), c.Operator.Mode) {
		errors = append(errors, ValidationError{
			Field:   "operator.mode",
			Value:   c.Operator.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidOperatorModes(), ", ")),
		})
	}
	if _, err := reassign.ParseChoice(c.Operator.NonInteractiveChoice); err != nil {
		errors = append(errors, ValidationError{
			Field:   "operator.non_interactive_choice",
			Value:   c.Operator.NonInteractiveChoice,
			Message: fmt.Sprintf("must be one of: %s", joinStrings(reassign.Choices())),
		})
	}
	if _, err := session.ParseDecision(c.Operator.NonInteractiveResume); err != nil {
		errors = append(errors, ValidationError{
			Field:   "operator.non_interactive_resume",
			Value:   c.Operator.NonInteractiveResume,
			Message: fmt.Sprintf("must be one of: %s", joinStrings(session.Decisions())),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be at least 1",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinStrings[T ~string](vals []T) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = string(v)
	}
	return strings.Join(s, ", ")
}
