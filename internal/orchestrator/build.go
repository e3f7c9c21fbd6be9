package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/handoff/internal/checkpoint"
	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/executor"
	"github.com/Iron-Ham/handoff/internal/fallback"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/reassign"
	"github.com/Iron-Ham/handoff/internal/session"
	"github.com/Iron-Ham/handoff/internal/store"
)

// BuildOptions supplies what Build cannot derive from configuration.
type BuildOptions struct {
	// BaseDir is the project directory; relative paths resolve against it.
	BaseDir string

	Chooser   session.Chooser
	Escalator reassign.Escalator
	Logger    *logging.Logger
	Bus       *event.Bus

	// Metrics receives the controller collectors when set.
	Metrics *prometheus.Registry

	// Executors are registered before the configured command executors.
	Executors []executor.Executor
	// Checker replaces the configured command checker.
	Checker contract.Checker
	// Sleeper replaces the backoff timer.
	Sleeper reassign.Sleeper

	// WatchOverrides reloads the project overrides file while the engine runs.
	WatchOverrides bool
}

// Build wires an Engine from configuration. A persistence backend that
// cannot be opened is replaced by an in-memory one with a warning; startup
// never fails on persistence.
func Build(ctx context.Context, cfg *config.Config, opts BuildOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(logger)
	}

	var closers []func() error
	fail := func(err error) (*Engine, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	storeOpts := cfg.Persistence.StoreOptions(opts.BaseDir)
	backend, err := store.Open(ctx, storeOpts)
	if err != nil {
		logger.Warn("persistence backend unavailable, keeping state in memory; work may be lost if the process exits",
			"backend", string(storeOpts.Kind),
			"error", err.Error(),
		)
		bus.Publish(event.NewPersistenceDegradedEvent("", "open", err.Error(), true))
		backend = store.NewMemoryStore()
	}
	closers = append(closers, backend.Close)

	sessions := session.NewManager(backend,
		session.WithTimeout(cfg.Session.SessionTimeout()),
		session.WithLogger(logger),
		session.WithBus(bus),
	)
	checkpoints := checkpoint.NewManager(cfg.Checkpoint.Limits(),
		checkpoint.WithLogger(logger),
		checkpoint.WithWorkDir(opts.BaseDir),
	)

	contracts, err := contract.NewEngine(contract.WithLogger(logger))
	if err != nil {
		return fail(fmt.Errorf("failed to create contract engine: %w", err))
	}
	closers = append(closers, func() error { contracts.Close(); return nil })

	resolver, err := fallback.NewResolver(cfg.Fallback.Patterns(), cfg.Fallback.ChainMap(), logger)
	if err != nil {
		return fail(fmt.Errorf("failed to compile fallback categories: %w", err))
	}
	overridesPath := ""
	if cfg.Fallback.OverridesFile != "" {
		overridesPath = config.ResolvePath(cfg.Fallback.OverridesFile, opts.BaseDir)
	}
	project, err := config.LoadOverrides(overridesPath)
	if err != nil {
		return fail(err)
	}
	if project != nil {
		resolver.SetProjectOverrides(project)
	}

	registry := executor.NewRegistry(opts.Executors...)
	for _, name := range slices.Sorted(maps.Keys(cfg.Executors)) {
		exe, err := executor.NewCommandExecutor(name, cfg.Executors[name], logger)
		if err != nil {
			return fail(err)
		}
		registry.Register(exe)
	}

	checker := opts.Checker
	if checker == nil {
		checker = executor.NewCommandChecker(cfg.CheckCommands(), logger)
	}
	runner := contract.NewRunner(checker, cfg.Verification.Runner(), logger)

	ctrlOpts := []reassign.Option{
		reassign.WithBus(bus),
		reassign.WithLogger(logger),
	}
	if opts.Metrics != nil {
		ctrlOpts = append(ctrlOpts, reassign.WithMetrics(reassign.NewMetrics(opts.Metrics)))
	}
	if opts.Sleeper != nil {
		ctrlOpts = append(ctrlOpts, reassign.WithSleeper(opts.Sleeper))
	}
	controller := reassign.NewController(sessions, checkpoints, registry, runner, cfg.Recovery(), ctrlOpts...)

	e, err := New(Components{
		Sessions:    sessions,
		Checkpoints: checkpoints,
		Contracts:   contracts,
		Resolver:    resolver,
		Registry:    registry,
		Controller:  controller,
		Chooser:     opts.Chooser,
		Escalator:   opts.Escalator,
		Bus:         bus,
		Logger:      logger,
	})
	if err != nil {
		return fail(err)
	}
	for _, c := range closers {
		e.onClose(c)
	}

	if opts.WatchOverrides && overridesPath != "" {
		w, err := config.WatchOverrides(overridesPath, resolver.SetProjectOverrides, logger)
		if err != nil {
			logger.Warn("project overrides will not be reloaded", "error", err.Error())
		} else {
			e.onClose(w.Close)
		}
	}

	logger.Info("engine ready",
		"backend", string(storeOpts.Kind),
		"executors", registry.Names(),
		"categories", len(resolver.Categories()),
	)
	return e, nil
}
