// ABOUTME: Reconnect delay policy for sessions that lose their transport
// ABOUTME: Exponential growth from 3s with a ceiling and an attempt budget

package session

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures reconnect scheduling.
type Backoff struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// MaxAttempts is the number of consecutive reconnects allowed without
	// reaching CONNECTED before the session becomes FAILED. Zero is unlimited.
	MaxAttempts int
}

// DefaultBackoff returns the production policy.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 3 * time.Second,
		Multiplier:   2,
		MaxDelay:     2 * time.Minute,
		MaxAttempts:  10,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}
	if b.MaxAttempts < 0 {
		b.MaxAttempts = 0
	}
	return b
}

// newExponential builds a deterministic schedule: no jitter, no elapsed-time cutoff.
func (b Backoff) newExponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.InitialDelay
	eb.Multiplier = b.Multiplier
	eb.MaxInterval = b.MaxDelay
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// exhausted reports whether attempt (1-based) exceeds the budget.
func (b Backoff) exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}

// delay returns the wait before the given 1-based attempt.
func (b Backoff) delay(attempt int) time.Duration {
	eb := b.withDefaults().newExponential()
	d := eb.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}
