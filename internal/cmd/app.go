package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/operator"
	"github.com/Iron-Ham/handoff/internal/orchestrator"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
)

// app is the wiring shared by commands that need an engine.
type app struct {
	cfg      *config.Config
	baseDir  string
	stateDir string
	logger   *logging.Logger
	operator *operator.Operator
	engine   *orchestrator.Engine
	metrics  *metricsServer
}

type appOptions struct {
	// progress prints orchestration events to stderr.
	progress bool
	// watch reloads the project fallback overrides file while running.
	watch bool
	// serveMetrics exposes /metrics when metrics.addr is set.
	serveMetrics bool
}

func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func projectDir() (string, error) {
	dir := flagDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return abs, nil
}

// targetSession returns the session id addressed by inspection commands.
func targetSession(cfg *config.Config) string {
	switch {
	case flagSession != "":
		return flagSession
	case cfg.Session.ID != "":
		return cfg.Session.ID
	default:
		return session.DefaultID
	}
}

// runSession returns the session id a run should open. In multi-session
// mode a run without an explicit id gets a fresh one.
func runSession(cfg *config.Config) string {
	if flagSession == "" && cfg.Session.ID == "" && cfg.Session.Multi {
		return session.NewID()
	}
	return targetSession(cfg)
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	baseDir, err := projectDir()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		baseDir:  baseDir,
		stateDir: config.ResolvePath(cfg.Persistence.Dir, baseDir),
		logger:   logging.NopLogger(),
	}

	if cfg.Logging.Enabled {
		logger, err := logging.NewLoggerWithRotation(a.stateDir, cfg.Logging.Level, cfg.Logging.Rotation())
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: logging disabled: %v\n", err)
		} else {
			a.logger = logger
		}
	}

	mode, err := operator.ParseMode(cfg.Operator.Mode)
	if err != nil {
		return nil, err
	}
	resumeDefault, err := session.ParseDecision(cfg.Operator.NonInteractiveResume)
	if err != nil {
		return nil, err
	}
	escalationDefault, err := reassign.ParseChoice(cfg.Operator.NonInteractiveChoice)
	if err != nil {
		return nil, err
	}
	a.operator = operator.New(cmd.InOrStdin(), cmd.OutOrStdout(),
		operator.WithMode(mode),
		operator.WithLogger(a.logger),
		operator.WithResumeDefault(resumeDefault),
		operator.WithEscalationDefault(escalationDefault),
	)

	bus := event.NewBus(a.logger)
	if opts.progress {
		if _, err := bus.SubscribeMatch(progressEvents, progressPrinter(cmd.ErrOrStderr())); err != nil {
			a.close()
			return nil, err
		}
	}

	var registry *prometheus.Registry
	if opts.serveMetrics && cfg.Metrics.Addr != "" {
		registry = prometheus.NewRegistry()
		a.metrics, err = startMetricsServer(cmd.Context(), cfg.Metrics.Addr, registry, a.logger)
		if err != nil {
			a.close()
			return nil, err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s/metrics\n", a.metrics.Addr())
	}

	a.engine, err = orchestrator.Build(cmd.Context(), cfg, orchestrator.BuildOptions{
		BaseDir:        baseDir,
		Chooser:        a.operator,
		Escalator:      a.operator,
		Logger:         a.logger,
		Bus:            bus,
		Metrics:        registry,
		WatchOverrides: opts.watch,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warn("engine close failed", "error", err.Error())
		}
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(context.Background())
	}
	_ = a.logger.Close()
}
