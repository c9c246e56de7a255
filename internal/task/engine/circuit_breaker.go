package engine

import (
	"sync"
	"time"
)

// circuitState is a consecutive-failure breaker shared by all workers.
//
//   - On success: resets failures and closes the circuit.
//   - On failure: increments failures and, once failures >= trip,
//     opens the circuit for an exponentially increasing cooldown.
//
// While open, workers stop dequeuing so jobs wait in the queue instead of
// burning their retries against a failing upstream.
type circuitState struct {
	mu          sync.Mutex
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

func (c *circuitState) resetIfStaleLocked(now time.Time, cfg Config) {
	if !c.lastFailure.IsZero() && now.Sub(c.lastFailure) > cfg.CircuitResetAfter {
		c.fails = 0
		c.openUntil = time.Time{}
	}
}

func (c *circuitState) isOpen(now time.Time, cfg Config) (bool, time.Time) {
	if cfg.CircuitTripFailures < 0 {
		return false, time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked(now, cfg)
	if !c.openUntil.IsZero() && now.Before(c.openUntil) {
		return true, c.openUntil
	}
	return false, time.Time{}
}

func (c *circuitState) record(now time.Time, cfg Config, err error) {
	if cfg.CircuitTripFailures < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked(now, cfg)

	if err == nil {
		c.fails = 0
		c.openUntil = time.Time{}
		c.lastFailure = time.Time{}
		return
	}

	c.fails++
	c.lastFailure = now
	if c.fails < cfg.CircuitTripFailures {
		return
	}

	pow := c.fails - cfg.CircuitTripFailures
	d := cfg.CircuitBaseDelay
	for i := 0; i < pow; i++ {
		d *= 2
		if d >= cfg.CircuitMaxDelay {
			d = cfg.CircuitMaxDelay
			break
		}
	}
	if d > cfg.CircuitMaxDelay {
		d = cfg.CircuitMaxDelay
	}
	c.openUntil = now.Add(d)
}
