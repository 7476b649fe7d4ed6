package llm

import (
	"fmt"
	"sync"
	"time"

	"github.com/ekaya-inc/ekaya-srs/pkg/metrics"
)

// CircuitState is the state of the breaker guarding the model provider.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return metrics.CircuitClosed
	case CircuitOpen:
		return metrics.CircuitOpen
	case CircuitHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes when proposals stop reaching the provider.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failed proposals that opens the circuit.
	Threshold int
	// ResetAfter is how long an open circuit rejects proposals before one trial call.
	ResetAfter time.Duration
	// OnTransition, if set, is called after every state change with the lock released.
	OnTransition func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 failed proposals and tries again after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  5,
		ResetAfter: 30 * time.Second,
	}
}

// CircuitBreaker makes turns fail fast while the model provider is down,
// instead of each turn waiting out the full retry policy. Every transition is
// exported as the srs_model_circuit_state gauge.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          CircuitBreakerConfig
	state        CircuitState
	failures     int
	openedAt     time.Time
	trialPending bool
	now          func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 1
	}
	metrics.SetCircuitState(metrics.CircuitClosed)
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow returns nil if a proposal may call the provider. Once ResetAfter has
// passed, an open circuit lets exactly one trial call through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	var err error
	switch cb.state {
	case CircuitClosed:
	case CircuitOpen:
		if waited := cb.now().Sub(cb.openedAt); waited > cb.cfg.ResetAfter {
			cb.state = CircuitHalfOpen
			cb.trialPending = true
		} else {
			err = NewError(ErrorTypeEndpoint,
				fmt.Sprintf("circuit open: model provider failed %d times, retrying in %v",
					cb.failures, (cb.cfg.ResetAfter - waited).Round(time.Second)),
				false, nil)
		}
	case CircuitHalfOpen:
		if cb.trialPending {
			err = NewError(ErrorTypeEndpoint, "circuit half-open: a trial proposal is in flight", false, nil)
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	cb.trialPending = false
	cb.state = CircuitClosed
	cb.mu.Unlock()

	cb.notify(from, CircuitClosed)
}

// RecordFailure counts a failed proposal. The circuit opens at the threshold,
// or immediately when the trial call fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++
	cb.trialPending = false
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.Threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from == to {
		return
	}
	metrics.SetCircuitState(to.String())
	if to == CircuitOpen {
		metrics.RecordCircuitOpened()
	}
	if cb.cfg.OnTransition != nil {
		cb.cfg.OnTransition(from, to)
	}
}
