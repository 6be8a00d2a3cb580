// Package resilience provides the retry and failure-isolation primitives the
// engine's supervisors use: exponential backoff for reconnect loops and a
// three-state circuit breaker that keeps a flapping provider from being
// probed on every call.
//
// All types are safe for concurrent use unless noted otherwise.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with optional jitter. The zero
// value is not usable; construct with [NewBackoff]. Backoff is not safe for
// concurrent use; each reconnect loop owns its own instance.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	jitter  float64

	cur time.Duration
}

// NewBackoff creates a backoff that starts at initial, doubles per attempt,
// and caps at max. jitter is the fraction (0..1) of random spread applied to
// each delay; 0 disables it.
func NewBackoff(initial, max time.Duration, jitter float64) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	if jitter < 0 || jitter > 1 {
		jitter = 0
	}
	return &Backoff{initial: initial, max: max, jitter: jitter}
}

// Next returns the delay to wait before the next attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.initial
	} else {
		b.cur *= 2
		if b.cur > b.max {
			b.cur = b.max
		}
	}
	d := b.cur
	if b.jitter > 0 {
		spread := float64(d) * b.jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}

// Reset returns the schedule to the initial delay. Call it after a
// successful attempt.
func (b *Backoff) Reset() {
	b.cur = 0
}

// Wait sleeps for the next delay in the schedule, returning early with the
// context error if ctx is cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	t := time.NewTimer(b.Next())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
