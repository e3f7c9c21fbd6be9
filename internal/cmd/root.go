package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/handoff/internal/config"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Resumable task orchestration across AI executors",
	Long: `Handoff delegates tasks to AI executors and keeps them finished.

Every task gets a verification contract, a bounded checkpoint and a
fallback chain of executors. Rate limits are retried with backoff,
context overflows restart in a fresh context, and crashes or failed
verification move on to the next executor. Only when the chain is
exhausted is the operator asked what to do. Session state is persisted
so an interrupted run can be resumed where it stopped.`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var (
	flagSession string
	flagDir     string

	// configErr is a config file that exists but could not be read.
	configErr error
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/handoff/config.yaml)")
	flags.String("log-level", "", "log level for this invocation (debug/info/warn/error)")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	flags.StringVarP(&flagSession, "session", "s", "", "session id (default: session.id or \"default\")")
	flags.StringVarP(&flagDir, "dir", "C", "", "project directory (default: current directory)")

	rootCmd.AddCommand(runCmd, resumeCmd, statusCmd, sessionsCmd, clearCmd, contractCmd, logsCmd, configCmd)
}

// initConfig layers defaults, the user or project config file and
// HANDOFF_* environment variables. A project file under <dir>/.handoff
// is found even when the command runs elsewhere with -C.
func initConfig() {
	config.SetDefaults()
	configErr = nil

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(filepath.Join(flagDir, ".handoff"))
	}

	viper.SetEnvPrefix("HANDOFF")
	// HANDOFF_RETRY_MAX_RETRIES sets retry.max_retries
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			configErr = fmt.Errorf("failed to read config file: %w", err)
		}
	}
}
