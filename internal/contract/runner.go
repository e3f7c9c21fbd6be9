package contract

import (
	"context"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/util"
)

// Status is the outcome of a criterion or a whole contract.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
)

// CheckResult is what a quality checker reports for one criterion.
type CheckResult struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Checker runs quality checker activities. An error means the activity
// could not be run at all; a failing check is reported as StatusFail.
type Checker interface {
	Check(ctx context.Context, executor string, c Criterion) (CheckResult, error)
}

// CriterionResult records the result of one criterion.
type CriterionResult struct {
	Criterion Criterion `json:"criterion"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Result is the verification result of one execution attempt.
type Result struct {
	AttemptID   string            `json:"attempt_id"`
	Executor    string            `json:"executor"`
	ContractFP  string            `json:"contract_fingerprint"`
	Overall     Status            `json:"overall"`
	Advisory    bool              `json:"advisory,omitempty"`
	Criteria    []CriterionResult `json:"criteria"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Passed reports whether every criterion passed.
func (r *Result) Passed() bool {
	return r != nil && r.Overall == StatusPass
}

// Failed returns the criteria that did not pass.
func (r *Result) Failed() []CriterionResult {
	var out []CriterionResult
	for _, c := range r.Criteria {
		if c.Status != StatusPass {
			out = append(out, c)
		}
	}
	return out
}

const detailLimit = 200

// Runner executes contracts against a Checker.
type Runner struct {
	checker  Checker
	attempts int
	parallel int
	now      func() time.Time
	logger   *logging.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// CheckAttempts is how many times a criterion is tried when the checker
	// errors (not when it reports a failure).
	CheckAttempts int
	// Parallel bounds concurrently running checks.
	Parallel int
}

// NewRunner creates a Runner.
func NewRunner(checker Checker, cfg RunnerConfig, logger *logging.Logger) *Runner {
	if cfg.CheckAttempts < 1 {
		cfg.CheckAttempts = 1
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		checker:  checker,
		attempts: cfg.CheckAttempts,
		parallel: cfg.Parallel,
		now:      time.Now,
		logger:   logger,
	}
}

// Run evaluates every criterion of c. Advisory contracts pass immediately.
// The overall status is pass iff all criteria pass. If ctx is cancelled
// the partial result is returned with ctx's error.
func (r *Runner) Run(ctx context.Context, c *Contract, executor, attemptID string) (*Result, error) {
	res := &Result{
		AttemptID:  attemptID,
		Executor:   executor,
		ContractFP: c.Fingerprint,
		Advisory:   c.Type == Advisory,
		Criteria:   make([]CriterionResult, len(c.Criteria)),
	}

	if c.Type == Advisory {
		res.Overall = StatusPass
		res.CompletedAt = r.now()
		return res, nil
	}

	p := pool.New().WithMaxGoroutines(r.parallel).WithContext(ctx)
	for i, crit := range c.Criteria {
		p.Go(func(ctx context.Context) error {
			res.Criteria[i] = r.runOne(ctx, executor, crit)
			return nil
		})
	}
	_ = p.Wait()

	res.Overall = StatusPass
	for _, cr := range res.Criteria {
		if cr.Status != StatusPass {
			res.Overall = StatusFail
			break
		}
	}
	res.CompletedAt = r.now()

	r.logger.Info("contract evaluated",
		"executor", executor,
		"type", c.Type.String(),
		"overall", string(res.Overall),
		"failed", len(res.Failed()),
	)
	return res, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, executor string, crit Criterion) CriterionResult {
	cr := CriterionResult{Criterion: crit, Status: StatusFail}
	for cr.Attempts < r.attempts {
		if err := ctx.Err(); err != nil {
			cr.Error = err.Error()
			return cr
		}
		cr.Attempts++
		out, err := r.checker.Check(ctx, executor, crit)
		if err != nil {
			cr.Error = util.TruncateString(err.Error(), detailLimit)
			r.logger.Warn("quality check errored",
				"activity", string(crit.Activity),
				"attempt", cr.Attempts,
				"error", err.Error(),
			)
			continue
		}
		cr.Status = out.Status
		cr.Detail = util.TruncateString(out.Detail, detailLimit)
		cr.Error = ""
		return cr
	}
	return cr
}
