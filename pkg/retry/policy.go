package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy is a declarative backoff schedule shared by every job type and by
// transactional conflict retries: max attempts, base delay, multiplier,
// jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	JitterRatio float64
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    10 * time.Minute,
		JitterRatio: 0.2,
	}
}

// Delay returns the backoff before the given attempt (1-based). Attempt 1
// waits the base delay; each further attempt multiplies it, capped at
// MaxDelay, with ±JitterRatio random jitter applied.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.JitterRatio > 0 {
		jitter := delay * p.JitterRatio
		delay = delay - jitter + rand.Float64()*2*jitter
	}

	return time.Duration(delay)
}

// Exhausted reports whether the attempt budget is spent.
func (p Policy) Exhausted(attempts int) bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}
	return attempts >= max
}

// Do runs fn up to MaxAttempts times, sleeping the policy delay between
// attempts. Only errors for which retryable returns true are retried; the
// last error is returned once the budget is spent or the context is done.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func() error) error {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == max {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}
