package engine

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// reconnectPolicy yields min(initial * 2^attempt, max) without jitter and
// stops after maxAttempts scheduled retries.
type reconnectPolicy struct {
	backoff     *backoff.ExponentialBackOff
	maxAttempts int
	attempt     int
}

func newReconnectPolicy(initial, max time.Duration, maxAttempts int) *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	return &reconnectPolicy{
		backoff:     b,
		maxAttempts: maxAttempts,
	}
}

// Exhausted reports whether no further retry may be scheduled
func (p *reconnectPolicy) Exhausted() bool {
	return p.attempt >= p.maxAttempts
}

// Next consumes one attempt and returns its delay
func (p *reconnectPolicy) Next() time.Duration {
	p.attempt++
	return p.backoff.NextBackOff()
}

// Attempt returns the number of retries scheduled since the last reset
func (p *reconnectPolicy) Attempt() int {
	return p.attempt
}

// Reset is called after every successful synchronization
func (p *reconnectPolicy) Reset() {
	p.attempt = 0
	p.backoff.Reset()
}
