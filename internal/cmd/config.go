package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/handoff/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify handoff configuration",
	Long: `View or modify handoff configuration.

Without arguments, displays the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  handoff config set persistence.backend sqlite
  handoff config set retry.initial_delay 10s
  handoff config set operator.non_interactive_choice abandon

Maps such as fallback.chains, executors and checks are edited in the
config file directly.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a commented default config file at $XDG_CONFIG_HOME/handoff/config.yaml.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and the project fallback overrides file",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

// settableKeys maps the scalar keys accepted by "config set" to their kind.
var settableKeys = map[string]string{
	"session.id":                      "string",
	"session.multi":                   "bool",
	"session.timeout_minutes":         "int",
	"persistence.backend":             "string",
	"persistence.dir":                 "string",
	"persistence.sqlite_path":         "string",
	"retry.max_retries":               "int",
	"retry.initial_delay":             "duration",
	"retry.multiplier":                "float",
	"retry.max_delay":                 "duration",
	"overflow.max_fresh_attempts":     "int",
	"checkpoint.max_completed_steps":  "int",
	"checkpoint.max_bytes":            "int",
	"checkpoint.rationale_limit":      "int",
	"checkpoint.partial_work_limit":   "int",
	"verification.check_attempts":     "int",
	"verification.parallel":           "int",
	"fallback.overrides_file":         "string",
	"operator.mode":                   "string",
	"operator.non_interactive_choice": "string",
	"operator.non_interactive_resume": "string",
	"logging.enabled":                 "bool",
	"logging.level":                   "string",
	"logging.max_size_mb":             "int",
	"logging.max_backups":             "int",
	"logging.compress":                "bool",
	"metrics.addr":                    "string",
}

// parseSetting converts a command-line value to the kind of key.
func parseSetting(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown configuration key: %s\nRun 'handoff config set --help' to see how to edit it", key)
	}
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", key)
		}
		return f, nil
	case "duration":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected duration like 30s or 2m", key)
		}
		return value, nil
	default:
		return value, nil
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	return enc.Close()
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value, err := parseSetting(key, args[1])
	if err != nil {
		return err
	}

	previous := viper.Get(key)
	viper.Set(key, value)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	configDir := config.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := config.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, value)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

const defaultConfigTemplate = `# handoff configuration

session:
  # Session id; empty uses "default", or a fresh id per run when multi is true
  id: ""
  multi: false
  # Heartbeat age after which a session counts as stale
  timeout_minutes: 30

persistence:
  # file, sqlite or memory
  backend: file
  dir: .handoff
  sqlite_path: .handoff/state.db

# Rate-limit retries on the same executor
retry:
  max_retries: 3
  initial_delay: 30s
  multiplier: 2
  max_delay: 2m

# Fresh-context restarts after a context overflow, per executor
overflow:
  max_fresh_attempts: 1

checkpoint:
  max_completed_steps: 10
  max_bytes: 2048
  rationale_limit: 100
  partial_work_limit: 200

verification:
  # Attempts per quality check before it counts as failed
  check_attempts: 2
  parallel: 1

fallback:
  # Executor chains per category, tried in order
  chains:
    interactive: [claude, codex]
    backend: [codex, claude]
    infrastructure: [claude]
    general: [claude, codex]
  # Extra categories, matched by artifact path globs
  # categories:
  #   mobile: ["**.swift", "**.kt"]
  # Per-category changes applied on top of chains
  # overrides:
  #   interactive: {prepend: [cursor]}
  # Project file with the same override format under a "chains" key
  overrides_file: .handoff/fallback.yaml

# Executors are commands that read a JSON request on stdin and print a
# JSON response on stdout
# executors:
#   claude:
#     command: [claude-exec, --json]
#     timeout: 30m

# Quality checks per activity; {pattern} and {timing} are substituted
# checks:
#   typecheck:
#     command: [go, vet, ./...]
#   test:
#     command: [go, test, -run, "{pattern}", ./...]

operator:
  # auto, picker, line or none
  mode: auto
  # Used when nobody can be asked
  non_interactive_choice: skip
  non_interactive_resume: resume

logging:
  enabled: true
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false

metrics:
  # Address for the Prometheus /metrics endpoint during runs; empty disables it
  addr: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'handoff config set' to modify values", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. %s\n", filepath.Join(".handoff", "config.yaml"))
	fmt.Fprintln(out, "\nEnvironment variables: HANDOFF_* (e.g., HANDOFF_RETRY_MAX_RETRIES)")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	baseDir, err := projectDir()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Fallback.OverridesFile != "" {
		path := config.ResolvePath(cfg.Fallback.OverridesFile, baseDir)
		overrides, err := config.LoadOverrides(path)
		if err != nil {
			return err
		}
		if overrides != nil {
			fmt.Fprintf(out, "Project overrides: %s (%d categories)\n", path, len(overrides))
		}
	}

	var missing []string
	for _, chain := range cfg.Fallback.ChainMap() {
		for _, exe := range chain {
			if _, ok := cfg.Executors[exe]; !ok && !slices.Contains(missing, exe) {
				missing = append(missing, exe)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		fmt.Fprintf(out, "Note: chains name executors without a configured command: %s\n", strings.Join(missing, ", "))
	}
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}
