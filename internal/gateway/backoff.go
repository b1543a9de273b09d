package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// randomization factor in [0, 1)
	Jitter float64
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    200 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// newBackOff returns a fresh schedule for retries against one provider.
// Elapsed time is bounded by maxRetries, not by the schedule.
func (c BackoffConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.Initial > 0 {
		b.InitialInterval = c.Initial
	}
	if c.Max > 0 {
		b.MaxInterval = c.Max
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	if c.Jitter >= 0 && c.Jitter < 1 {
		b.RandomizationFactor = c.Jitter
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ceiling bounds any single wait, including vendor Retry-After hints.
func (c BackoffConfig) ceiling() time.Duration {
	if c.Max > 0 {
		return c.Max
	}
	return DefaultBackoff().Max
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
