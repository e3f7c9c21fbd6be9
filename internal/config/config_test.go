package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/store"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Session.TimeoutMinutes != 30 {
		t.Errorf("Session.TimeoutMinutes = %d, want 30", cfg.Session.TimeoutMinutes)
	}
	if cfg.Persistence.Backend != "file" {
		t.Errorf("Persistence.Backend = %q, want %q", cfg.Persistence.Backend, "file")
	}

	// Backoff matches the documented 30s/60s/120s schedule
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("Retry.MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.InitialDelay != 30*time.Second {
		t.Errorf("Retry.InitialDelay = %v, want 30s", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("Retry.Multiplier = %v, want 2", cfg.Retry.Multiplier)
	}
	if cfg.Overflow.MaxFreshAttempts != 1 {
		t.Errorf("Overflow.MaxFreshAttempts = %d, want 1", cfg.Overflow.MaxFreshAttempts)
	}

	if cfg.Checkpoint.MaxCompletedSteps != 10 || cfg.Checkpoint.MaxBytes != 2048 {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.Checkpoint.RationaleLimit != 100 || cfg.Checkpoint.PartialWorkLimit != 200 {
		t.Errorf("Checkpoint = %+v", cfg.Checkpoint)
	}

	if got := cfg.Fallback.Chains["interactive"]; !cmp.Equal(got, []string{"claude", "codex"}) {
		t.Errorf("interactive chain = %v", got)
	}
	if cfg.Operator.Mode != "auto" || cfg.Operator.NonInteractiveChoice != "skip" {
		t.Errorf("Operator = %+v", cfg.Operator)
	}
	if !cfg.Logging.Enabled || cfg.Logging.Level != "info" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		result := ConfigDir()
		expected := "/custom/config/handoff"
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		result := ConfigDir()

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "handoff")
		if result != expected {
			t.Errorf("ConfigDir() = %q, want %q", result, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	result := ConfigFile()
	expected := "/custom/config/handoff/config.yaml"
	if result != expected {
		t.Errorf("ConfigFile() = %q, want %q", result, expected)
	}
}

func loadYAML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(doc)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}
	return Load()
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Persistence.Backend != "file" {
		t.Errorf("Get().Persistence.Backend = %q, want file", cfg.Persistence.Backend)
	}
	if got := cfg.Fallback.Chains["general"]; len(got) == 0 {
		t.Error("Get() should carry the default general chain")
	}
}

func TestLoad_FromYAML(t *testing.T) {
	cfg, err := loadYAML(t, `
persistence:
  backend: sqlite
  sqlite_path: state/handoff.db
retry:
  max_retries: 2
  initial_delay: 5s
  max_delay: 1m
fallback:
  chains:
    backend: [codex, gemini]
  categories:
    mobile: ["**.swift", "**.kt"]
  overrides:
    interactive:
      prepend: [cursor]
executors:
  claude:
    command: [claude-exec, --json]
    timeout: 10m
checks:
  build:
    command: [make, build]
operator:
  mode: none
  non_interactive_choice: abandon
`)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Persistence.Backend != "sqlite" {
		t.Errorf("Backend = %q", cfg.Persistence.Backend)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.InitialDelay != 5*time.Second || cfg.Retry.MaxDelay != time.Minute {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	// Multiplier keeps its default
	if cfg.Retry.Multiplier != 2 {
		t.Errorf("Retry.Multiplier = %v, want default 2", cfg.Retry.Multiplier)
	}

	if diff := cmp.Diff([]string{"codex", "gemini"}, cfg.Fallback.Chains["backend"]); diff != "" {
		t.Errorf("backend chain mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"claude", "codex"}, cfg.Fallback.Chains["interactive"]); diff != "" {
		t.Errorf("default interactive chain should survive (-want +got):\n%s", diff)
	}
	if got := cfg.Fallback.Overrides["interactive"].Prepend; !cmp.Equal(got, []string{"cursor"}) {
		t.Errorf("interactive override = %v", got)
	}

	claude, ok := cfg.Executors["claude"]
	if !ok {
		t.Fatal("executors.claude missing")
	}
	if !cmp.Equal(claude.Command, []string{"claude-exec", "--json"}) || claude.Timeout != 10*time.Minute {
		t.Errorf("executors.claude = %+v", claude)
	}
	if _, ok := cfg.CheckCommands()[contract.Activity("build")]; !ok {
		t.Error("CheckCommands() missing build")
	}
	if cfg.Operator.Mode != "none" || cfg.Operator.NonInteractiveChoice != "abandon" {
		t.Errorf("Operator = %+v", cfg.Operator)
	}

	patterns := cfg.Fallback.Patterns()
	if !cmp.Equal(patterns[fallback.Category("mobile")], []string{"**.swift", "**.kt"}) {
		t.Errorf("mobile patterns = %v", patterns["mobile"])
	}
	if len(patterns[fallback.CategoryBackend]) == 0 {
		t.Error("built-in backend patterns should be kept")
	}
}

func TestLoad_Invalid(t *testing.T) {
	_, err := loadYAML(t, `
persistence:
  backend: postgres
retry:
  max_retries: -1
logging:
  level: verbose
`)
	if err == nil {
		t.Fatal("Load() should fail")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"persistence.backend", "retry.max_retries", "logging.level"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s in %v", want, verrs)
		}
	}
}

func TestStoreOptions(t *testing.T) {
	base := t.TempDir()
	p := PersistenceConfig{Backend: "file", Dir: ".handoff", SQLitePath: "/var/lib/handoff.db"}

	got := p.StoreOptions(base)
	want := store.Options{
		Kind:       store.KindFile,
		Dir:        filepath.Join(base, ".handoff", "sessions"),
		SQLitePath: "/var/lib/handoff.db",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("StoreOptions() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		path, base, want string
	}{
		{"", "/repo", "/repo"},
		{"state", "/repo", "/repo/state"},
		{"/abs/state", "/repo", "/abs/state"},
		{"~/state", "/repo", filepath.Join(home, "state")},
	}
	for _, tt := range tests {
		if got := ResolvePath(tt.path, tt.base); got != tt.want {
			t.Errorf("ResolvePath(%q, %q) = %q, want %q", tt.path, tt.base, got, tt.want)
		}
	}
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxRetries = 5
	cfg.Overflow.MaxFreshAttempts = 2
	cfg.Checkpoint.MaxBytes = 4096

	rec := cfg.Recovery()
	if rec.Backoff.MaxRetries != 5 || rec.MaxFreshAttempts != 2 {
		t.Errorf("Recovery() = %+v", rec)
	}

	limits := cfg.Checkpoint.Limits()
	if limits.MaxBytes != 4096 {
		t.Errorf("Limits().MaxBytes = %d", limits.MaxBytes)
	}
	if limits.MaxDecisions != checkpoint.DefaultLimits().MaxDecisions {
		t.Error("unconfigured limits should keep their defaults")
	}

	if r := cfg.Verification.Runner(); r.CheckAttempts != 2 || r.Parallel != 1 {
		t.Errorf("Runner() = %+v", r)
	}
	if rot := cfg.Logging.Rotation(); rot.MaxSizeMB != 10 || rot.MaxBackups != 3 {
		t.Errorf("Rotation() = %+v", rot)
	}
	if got := cfg.Session.SessionTimeout(); got != 30*time.Minute {
		t.Errorf("SessionTimeout() = %v", got)
	}

	chains := cfg.Fallback.ChainMap()
	if !cmp.Equal(chains[fallback.CategoryBackend], []string{"codex", "claude"}) {
		t.Errorf("ChainMap()[backend] = %v", chains[fallback.CategoryBackend])
	}
}

func TestChainMap_UserOverrides(t *testing.T) {
	f := FallbackConfig{
		Chains: DefaultChains(),
		Overrides: fallback.Overrides{
			"interactive": {Prepend: []string{"cursor"}},
			"mobile":      {Append: []string{"xcode-agent"}},
			"backend":     {Override: true, Executors: []string{"gemini"}},
		},
	}
	got := f.ChainMap()
	want := map[fallback.Category][]string{
		fallback.CategoryInteractive:    {"cursor", "claude", "codex"},
		fallback.CategoryBackend:        {"gemini"},
		fallback.CategoryInfrastructure: {"claude"},
		fallback.CategoryGeneral:        {"claude", "codex"},
		"mobile":                        {"claude", "codex", "xcode-agent"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ChainMap() mismatch (-want +got):\n%s", diff)
	}
}
