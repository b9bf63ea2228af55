package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a capped exponential backoff schedule with jitter, used for
// retry loops against the backend and dispatch tools.
type Backoff struct {
	Base     time.Duration // delay before the second attempt
	Factor   float64       // multiplier per attempt
	Max      time.Duration // cap on any single delay
	Jitter   float64       // fraction of the delay randomized, 0..1
	Attempts int           // total attempts including the first
}

// DefaultBackoff matches the documented retry budget: base 500ms, factor 2,
// 3 attempts, ±25% jitter, capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:     500 * time.Millisecond,
		Factor:   2,
		Max:      30 * time.Second,
		Jitter:   0.25,
		Attempts: 3,
	}
}

// Delay returns the wait before the given retry. The first retry follows
// attempt 1; Delay(0) is always zero.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		// Spread the delay across [d*(1-j), d*(1+j)] to avoid retry storms.
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
