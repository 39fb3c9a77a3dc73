package middleware

import (
	"sync"
	"time"
)

// CircuitBreaker tracks consecutive primary store errors:
// - Open after failureThreshold consecutive failures; while open the gate goes
//   straight to the local fallback.
// - After cooldown, requests probe the primary again.
// - Close after successThreshold consecutive successful probes.
// Being open never changes what the caller sees.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	now              func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultBreakerCooldown  = 10 * time.Second
)

func newCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		state:            circuitClosed,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		cooldown:         defaultBreakerCooldown,
		now:              time.Now,
	}
}

// Allow reports whether the primary store should be tried.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == circuitClosed || c.now().Sub(c.openedAt) >= c.cooldown
}

func (c *CircuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == circuitOpen
}

// RecordFailure returns true when the circuit is open afterwards.
func (c *CircuitBreaker) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.successCount = 0
	if c.state == circuitOpen {
		// A failed probe restarts the cooldown.
		c.openedAt = c.now()
		return true
	}
	if c.failureCount >= c.failureThreshold {
		c.state = circuitOpen
		c.openedAt = c.now()
		return true
	}
	return false
}

// RecordSuccess returns true when the circuit is closed afterwards.
func (c *CircuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == circuitOpen {
		c.successCount++
		if c.successCount >= c.successThreshold {
			c.state = circuitClosed
			c.failureCount = 0
			c.successCount = 0
			return true
		}
		return false
	}
	c.failureCount = 0
	return true
}
