package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/handoff/internal/contract"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/util"
)

// DefaultTimeout bounds a single executor or checker invocation.
const DefaultTimeout = 30 * time.Minute

const (
	stderrTail = 500
	// waitDelay bounds how long output pipes stay open after the process
	// is killed, in case it left children holding them.
	waitDelay = 2 * time.Second
)

// CommandConfig describes an external command.
type CommandConfig struct {
	Command []string      `mapstructure:"command" yaml:"command"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Env     []string      `mapstructure:"env" yaml:"env"`
}

func (c CommandConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// CommandExecutor runs an external program per attempt. The Request is
// written to stdin as JSON and a Response is read from stdout.
type CommandExecutor struct {
	name   string
	cfg    CommandConfig
	logger *logging.Logger
}

// NewCommandExecutor creates a CommandExecutor.
func NewCommandExecutor(name string, cfg CommandConfig, logger *logging.Logger) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.NewValidationError("executor command is empty").WithField("executors." + name + ".command")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandExecutor{name: name, cfg: cfg, logger: logger.WithExecutor(name)}, nil
}

// Name returns the executor id.
func (e *CommandExecutor) Name() string { return e.name }

// Execute runs the command. A non-zero exit or unparsable output is a
// crash; a parsed failure Response is returned as-is for classification.
func (e *CommandExecutor) Execute(ctx context.Context, req Request) (Response, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.timeout())
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = e.cfg.Dir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.cfg.Env...)
	}
	cmd.WaitDelay = waitDelay
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	e.logger.WithTask(req.TaskID).WithAttempt(req.AttemptID).Debug("executor finished",
		"duration", time.Since(start).String(),
		"exit_error", runErr != nil,
	)

	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if runErr != nil {
		msg := util.Tail(strings.TrimSpace(stderr.String()), stderrTail)
		if msg == "" {
			msg = runErr.Error()
		}
		return Response{}, errors.NewTaskError(msg, runErr).
			WithTaskID(req.TaskID).
			WithExecutor(e.name).
			WithClass(errors.ClassCrash)
	}

	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Response{}, errors.NewTaskError("executor produced malformed output", err).
			WithTaskID(req.TaskID).
			WithExecutor(e.name).
			WithClass(errors.ClassCrash)
	}
	if resp.Status == "" {
		resp.Status = StatusFailure
		if resp.Error == "" {
			resp.Error = "executor response has no status"
		}
	}
	return resp, nil
}

// CommandChecker runs one command per quality checker activity. Argument
// placeholders {pattern}, {timing} and {executor} are substituted from the
// criterion. Exit status 0 is a pass; any other exit status is a fail.
// Failing to start the command is an error.
type CommandChecker struct {
	checks map[contract.Activity]CommandConfig
	logger *logging.Logger
}

// NewCommandChecker creates a CommandChecker.
func NewCommandChecker(checks map[contract.Activity]CommandConfig, logger *logging.Logger) *CommandChecker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandChecker{checks: checks, logger: logger}
}

// Check implements contract.Checker.
func (c *CommandChecker) Check(ctx context.Context, executor string, crit contract.Criterion) (contract.CheckResult, error) {
	cfg, ok := c.checks[crit.Activity]
	if !ok || len(cfg.Command) == 0 {
		return contract.CheckResult{}, fmt.Errorf("no command configured for %s", crit.Activity)
	}

	argv := ExpandArgs(cfg.Command, crit, executor)
	execCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = cfg.Dir
	cmd.WaitDelay = waitDelay
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return contract.CheckResult{}, ctx.Err()
	}

	detail := util.Tail(strings.TrimSpace(string(output)), stderrTail)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			c.logger.Info("quality check failed",
				"activity", string(crit.Activity),
				"criterion", crit.String(),
				"exit_code", exitErr.ExitCode(),
			)
			return contract.CheckResult{Status: contract.StatusFail, Detail: detail}, nil
		}
		return contract.CheckResult{}, err
	}
	return contract.CheckResult{Status: contract.StatusPass, Detail: detail}, nil
}

// ExpandArgs substitutes criterion placeholders in argv.
func ExpandArgs(argv []string, crit contract.Criterion, executor string) []string {
	r := strings.NewReplacer(
		"{pattern}", crit.Pattern,
		"{timing}", crit.Timing,
		"{executor}", executor,
	)
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
