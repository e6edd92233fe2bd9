// Package resilience provides fail-fast protection for external calls.
package resilience

import (
	"context"
	"sync"
	"time"

	apperrors "autosniper/internal/errors"
)

// State represents the state of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"    // Normal operation
	StateOpen     State = "OPEN"      // Failing, rejecting calls without I/O
	StateHalfOpen State = "HALF_OPEN" // Probing whether the dependency recovered
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// TripThreshold is the number of consecutive failures before opening.
	TripThreshold int
	// SuccessThreshold is the number of successes in half-open state to close.
	SuccessThreshold int
	// ResetTimeout is how long the breaker stays open before half-open.
	ResetTimeout time.Duration
	// CallTimeout bounds each protected call; zero disables the bound.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns sensible defaults for exchange calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		TripThreshold:    5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// Breaker implements a closed/open/half-open circuit breaker. While open,
// calls fail immediately with ErrCircuitOpen and no network I/O is attempted.
type Breaker struct {
	name   string
	config BreakerConfig

	mu              sync.RWMutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalCalls     int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
	totalTimeouts  int64
}

// NewBreaker creates a circuit breaker.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:            name,
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Do runs fn with breaker protection and the configured per-call timeout.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	b.mu.Lock()
	b.totalCalls++
	b.mu.Unlock()

	callCtx := ctx
	if b.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil {
		if callCtx.Err() != nil {
			b.mu.Lock()
			b.totalTimeouts++
			b.mu.Unlock()
		}
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// Call runs a function returning a result with breaker protection.
func Call[T any](b *Breaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) > b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			return nil
		}
		b.totalRejected++
		return apperrors.ErrCircuitOpen
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.TripThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Any failure while probing reopens the breaker.
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) transitionTo(state State) {
	b.state = state
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Healthy reports whether the breaker is not open.
func (b *Breaker) Healthy() bool {
	return b.State() != StateOpen
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Reset forces the breaker back to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// Stats returns breaker counters.
func (b *Breaker) Stats() BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BreakerStats{
		Name:            b.name,
		State:           b.state,
		TotalCalls:      b.totalCalls,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejected:   b.totalRejected,
		TotalTimeouts:   b.totalTimeouts,
		CurrentFailures: b.failures,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// BreakerStats holds circuit breaker counters.
type BreakerStats struct {
	Name            string
	State           State
	TotalCalls      int64
	TotalSuccesses  int64
	TotalFailures   int64
	TotalRejected   int64
	TotalTimeouts   int64
	CurrentFailures int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// FailureRate returns the failure rate as a percentage.
func (s BreakerStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalCalls) * 100
}
