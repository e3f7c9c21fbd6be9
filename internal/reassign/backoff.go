package reassign

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffConfig is the rate-limit retry schedule for one executor.
type BackoffConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoff retries up to three times after 30s, 60s and 120s.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:   3,
		InitialDelay: 30 * time.Second,
		Multiplier:   2,
		MaxDelay:     120 * time.Second,
	}
}

// newSchedule returns a deterministic exponential schedule.
func (c BackoffConfig) newSchedule() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          c.Multiplier,
		MaxInterval:         c.MaxDelay,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// Delays returns the full retry schedule, e.g. [30s 60s 120s].
func (c BackoffConfig) Delays() []time.Duration {
	s := c.newSchedule()
	out := make([]time.Duration, 0, c.MaxRetries)
	for i := 0; i < c.MaxRetries; i++ {
		out = append(out, s.NextBackOff())
	}
	return out
}

// Sleeper suspends the calling flow for a backoff delay.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer and wakes early on cancellation.
type TimerSleeper struct{}

// Sleep implements Sleeper.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
