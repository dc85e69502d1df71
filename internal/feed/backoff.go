package feed

import (
	"math/rand"
	"time"

	"order-sync/internal/common/config"
)

// Backoff is the reconnect schedule: Base doubles per consecutive failure until
// MaxMultiplier×Base, never exceeding Max. Jitter in [0,1) shaves up to that
// fraction off each delay so sessions that dropped together do not reconnect together.
type Backoff struct {
	Base          time.Duration
	Max           time.Duration
	MaxMultiplier int
	MaxAttempts   int
	Jitter        float64
}

// DefaultBackoff mirrors the configuration defaults.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second, MaxMultiplier: 8, MaxAttempts: 10}

// Delay returns the wait before the next attempt after the given number of
// consecutive failures (1 for the first failure).
func (b Backoff) Delay(failures int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if failures < 1 {
		failures = 1
	}
	mult := 1
	for i := 1; i < failures; i++ {
		mult *= 2
		if b.MaxMultiplier > 0 && mult >= b.MaxMultiplier {
			mult = b.MaxMultiplier
			break
		}
	}
	d := b.Base * time.Duration(mult)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 && b.Jitter < 1 {
		d -= time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}

// Exhausted reports whether the attempt budget is spent.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}

// BackoffFrom converts the configured schedule, keeping defaults for unset fields.
func BackoffFrom(c config.Backoff) Backoff {
	b := DefaultBackoff
	if c.Base > 0 {
		b.Base = c.Base
	}
	if c.MaxDelay > 0 {
		b.Max = c.MaxDelay
	}
	if c.MaxMultiplier > 0 {
		b.MaxMultiplier = c.MaxMultiplier
	}
	if c.MaxAttempts > 0 {
		b.MaxAttempts = c.MaxAttempts
	}
	b.Jitter = 0.2
	return b
}
