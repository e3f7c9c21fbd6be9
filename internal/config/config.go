package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/store"
)

// Config represents the complete handoff configuration
type Config struct {
	Session      SessionConfig                     `mapstructure:"session"`
	Persistence  PersistenceConfig                 `mapstructure:"persistence"`
	Retry        RetryConfig                       `mapstructure:"retry"`
	Overflow     OverflowConfig                    `mapstructure:"overflow"`
	Checkpoint   CheckpointConfig                  `mapstructure:"checkpoint"`
	Verification VerificationConfig                `mapstructure:"verification"`
	Fallback     FallbackConfig                    `mapstructure:"fallback"`
	Executors    map[string]executor.CommandConfig `mapstructure:"executors"`
	Checks       map[string]executor.CommandConfig `mapstructure:"checks"`
	Operator     OperatorConfig                    `mapstructure:"operator"`
	Logging      LoggingConfig                     `mapstructure:"logging"`
	Metrics      MetricsConfig                     `mapstructure:"metrics"`
}

// SessionConfig controls session identity and staleness
type SessionConfig struct {
	// ID is the session id. Empty means "default", or a generated id when
	// Multi is set.
	ID string `mapstructure:"id"`
	// Multi enables concurrent sessions with generated ids
	Multi bool `mapstructure:"multi"`
	// TimeoutMinutes is how long without a heartbeat before a session is stale
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// PersistenceConfig selects the persistence backend
type PersistenceConfig struct {
	// Backend is one of "file", "sqlite", "memory"
	Backend    string `mapstructure:"backend"`
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RetryConfig is the rate-limit backoff schedule
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// OverflowConfig controls recovery from context overflow
type OverflowConfig struct {
	// MaxFreshAttempts is how many fresh-context restarts one executor gets
	MaxFreshAttempts int `mapstructure:"max_fresh_attempts"`
}

// CheckpointConfig bounds checkpoint size
type CheckpointConfig struct {
	MaxCompletedSteps int `mapstructure:"max_completed_steps"`
	MaxBytes          int `mapstructure:"max_bytes"`
	RationaleLimit    int `mapstructure:"rationale_limit"`
	PartialWorkLimit  int `mapstructure:"partial_work_limit"`
}

// VerificationConfig controls the contract runner
type VerificationConfig struct {
	// CheckAttempts is how often a check is tried when the checker errors
	CheckAttempts int `mapstructure:"check_attempts"`
	// Parallel bounds concurrently running checks
	Parallel int `mapstructure:"parallel"`
}

// FallbackConfig configures fallback chain resolution
type FallbackConfig struct {
	// Categories adds glob patterns per category. Built-in patterns for a
	// category are replaced when the category is listed here.
	Categories map[string][]string `mapstructure:"categories"`
	// Chains maps a category to its ordered executor ids
	Chains map[string][]string `mapstructure:"chains"`
	// Overrides is the user-level override layer
	Overrides fallback.Overrides `mapstructure:"overrides"`
	// OverridesFile is the project-level override file, reloaded on change
	OverridesFile string `mapstructure:"overrides_file"`
}

// OperatorConfig controls the operator prompts
type OperatorConfig struct {
	// Mode is one of "auto", "picker", "line", "none"
	Mode string `mapstructure:"mode"`
	// NonInteractiveChoice is the escalation answer used in mode "none"
	NonInteractiveChoice string `mapstructure:"non_interactive_choice"`
	// NonInteractiveResume is the resume answer used in mode "none"
	NonInteractiveResume string `mapstructure:"non_interactive_resume"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint
	Addr string `mapstructure:"addr"`
}

// DefaultChains returns the built-in fallback chains.
func DefaultChains() map[string][]string {
	return map[string][]string{
		string(fallback.CategoryInteractive):    {"claude", "codex"},
		string(fallback.CategoryBackend):        {"codex", "claude"},
		string(fallback.CategoryInfrastructure): {"claude"},
		string(fallback.CategoryGeneral):        {"claude", "codex"},
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	limits := checkpoint.DefaultLimits()
	backoff := reassign.DefaultBackoff()
	return &Config{
		Session: SessionConfig{
			ID:             "",
			Multi:          false,
			TimeoutMinutes: int(session.DefaultTimeout / time.Minute),
		},
		Persistence: PersistenceConfig{
			Backend:    string(store.KindFile),
			Dir:        ".handoff",
			SQLitePath: filepath.Join(".handoff", "state.db"),
		},
		Retry: RetryConfig{
			MaxRetries:   backoff.MaxRetries,
			InitialDelay: backoff.InitialDelay,
			Multiplier:   backoff.Multiplier,
			MaxDelay:     backoff.MaxDelay,
		},
		Overflow: OverflowConfig{
			MaxFreshAttempts: reassign.DefaultMaxFreshAttempts,
		},
		Checkpoint: CheckpointConfig{
			MaxCompletedSteps: limits.MaxCompletedSteps,
			MaxBytes:          limits.MaxBytes,
			RationaleLimit:    limits.RationaleLimit,
			PartialWorkLimit:  limits.PartialWorkLimit,
		},
		Verification: VerificationConfig{
			CheckAttempts: 2,
			Parallel:      1,
		},
		Fallback: FallbackConfig{
			Categories:    map[string][]string{},
			Chains:        DefaultChains(),
			Overrides:     fallback.Overrides{},
			OverridesFile: filepath.Join(".handoff", "fallback.yaml"),
		},
		Executors: map[string]executor.CommandConfig{},
		Checks:    map[string]executor.CommandConfig{},
		Operator: OperatorConfig{
			Mode:                 "auto",
			NonInteractiveChoice: "skip",
			NonInteractiveResume: "resume",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("session.id", defaults.Session.ID)
	viper.SetDefault("session.multi", defaults.Session.Multi)
	viper.SetDefault("session.timeout_minutes", defaults.Session.TimeoutMinutes)

	// Persistence defaults
	viper.SetDefault("persistence.backend", defaults.Persistence.Backend)
	viper.SetDefault("persistence.dir", defaults.Persistence.Dir)
	viper.SetDefault("persistence.sqlite_path", defaults.Persistence.SQLitePath)

	// Retry defaults
	viper.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	viper.SetDefault("retry.initial_delay", defaults.Retry.InitialDelay)
	viper.SetDefault("retry.multiplier", defaults.Retry.Multiplier)
	viper.SetDefault("retry.max_delay", defaults.Retry.MaxDelay)
	viper.SetDefault("overflow.max_fresh_attempts", defaults.Overflow.MaxFreshAttempts)

	// Checkpoint defaults
	viper.SetDefault("checkpoint.max_completed_steps", defaults.Checkpoint.MaxCompletedSteps)
	viper.SetDefault("checkpoint.max_bytes", defaults.Checkpoint.MaxBytes)
	viper.SetDefault("checkpoint.rationale_limit", defaults.Checkpoint.RationaleLimit)
	viper.SetDefault("checkpoint.partial_work_limit", defaults.Checkpoint.PartialWorkLimit)

	// Verification defaults
	viper.SetDefault("verification.check_attempts", defaults.Verification.CheckAttempts)
	viper.SetDefault("verification.parallel", defaults.Verification.Parallel)

	// Fallback defaults
	// Chains are set per category so a config file naming one chain
	// keeps the built-in chains for the others.
	for name, chain := range defaults.Fallback.Chains {
		viper.SetDefault("fallback.chains."+name, chain)
	}
	viper.SetDefault("fallback.overrides_file", defaults.Fallback.OverridesFile)

	// Operator defaults
	viper.SetDefault("operator.mode", defaults.Operator.Mode)
	viper.SetDefault("operator.non_interactive_choice", defaults.Operator.NonInteractiveChoice)
	viper.SetDefault("operator.non_interactive_resume", defaults.Operator.NonInteractiveResume)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "handoff")
	}
	// Fall back to ~/.config/handoff
	home, err := os.UserHomeDir()
	if err != nil {
		return ".handoff"
	}
	return filepath.Join(home, ".config", "handoff")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolvePath expands ~ and resolves relative paths against baseDir.
func ResolvePath(path, baseDir string) string {
	if path == "" {
		return baseDir
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// SessionTimeout returns the staleness timeout as a time.Duration
func (c *SessionConfig) SessionTimeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// StoreOptions returns the backend options with paths resolved against baseDir.
func (c *PersistenceConfig) StoreOptions(baseDir string) store.Options {
	return store.Options{
		Kind:       store.Kind(c.Backend),
		Dir:        filepath.Join(ResolvePath(c.Dir, baseDir), "sessions"),
		SQLitePath: ResolvePath(c.SQLitePath, baseDir),
	}
}

// Backoff returns the retry schedule.
func (c *Config) Backoff() reassign.BackoffConfig {
	return reassign.BackoffConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		Multiplier:   c.Retry.Multiplier,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

// Recovery returns the controller policy.
func (c *Config) Recovery() reassign.Config {
	return reassign.Config{
		Backoff:          c.Backoff(),
		MaxFreshAttempts: c.Overflow.MaxFreshAttempts,
	}
}

// Limits returns the checkpoint limits. Unset fields keep their defaults.
func (c *CheckpointConfig) Limits() checkpoint.Limits {
	l := checkpoint.DefaultLimits()
	l.MaxCompletedSteps = c.MaxCompletedSteps
	l.MaxBytes = c.MaxBytes
	l.RationaleLimit = c.RationaleLimit
	l.PartialWorkLimit = c.PartialWorkLimit
	return l
}

// Runner returns the contract runner settings.
func (c *VerificationConfig) Runner() contract.RunnerConfig {
	return contract.RunnerConfig{
		CheckAttempts: c.CheckAttempts,
		Parallel:      c.Parallel,
	}
}

// Rotation returns the log rotation settings.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
}

// Patterns returns the artifact patterns per category: the built-in
// patterns, with categories listed in config replaced.
func (c *FallbackConfig) Patterns() map[fallback.Category][]string {
	out := fallback.DefaultPatterns()
	for name, globs := range c.Categories {
		out[fallback.Category(strings.ToLower(name))] = globs
	}
	return out
}

// ChainMap returns the configured chains keyed by category with the
// user-level overrides already merged in. A category that only has an
// override starts from the general chain. Project overrides are layered on
// top by the resolver.
func (c *FallbackConfig) ChainMap() map[fallback.Category][]string {
	out := make(map[fallback.Category][]string, len(c.Chains))
	for name, chain := range c.Chains {
		out[fallback.Category(strings.ToLower(name))] = chain
	}
	for name, o := range c.Overrides {
		cat := fallback.Category(strings.ToLower(name))
		base, ok := out[cat]
		if !ok {
			base = out[fallback.CategoryGeneral]
		}
		out[cat] = fallback.Merge(base, o)
	}
	return out
}

// CheckCommands returns the quality checker commands keyed by activity.
func (c *Config) CheckCommands() map[contract.Activity]executor.CommandConfig {
	out := make(map[contract.Activity]executor.CommandConfig, len(c.Checks))
	for name, cmd := range c.Checks {
		out[contract.Activity(name)] = cmd
	}
	return out
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return logging.ValidLevels()
}

// ValidOperatorModes returns the list of valid operator modes
func ValidOperatorModes() []string {
	return []string{"auto", "picker", "line", "none"}
}
