package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when a call is rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of the circuit breaker
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures before opening
	Cooldown         time.Duration `json:"cooldown"`          // wait before a half-open probe
}

// CircuitBreakerStats holds counters for the circuit breaker
type CircuitBreakerStats struct {
	State           string    `json:"state"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	Rejected        int64     `json:"rejected"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreaker stops calling a failing downstream (the Telegram Bot API)
// until a cooldown has passed, then lets a single probe through.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
	stats    CircuitBreakerStats
}

// NewCircuitBreaker creates a breaker; zero config values fall back to
// 3 failures and a one minute cooldown.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.Cooldown <= 0 {
		config.Cooldown = time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CircuitBreaker{name: name, config: config, logger: logger, now: time.Now}
}

// Execute runs fn unless the breaker is open. The breaker lock is not held
// while fn runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.stats.Rejected++
			return false
		}
		cb.setState(HalfOpen)
		cb.probing = true
		return true
	case HalfOpen:
		if cb.probing {
			cb.stats.Rejected++
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probing = false
	if err == nil {
		cb.stats.Successes++
		cb.failures = 0
		cb.setState(Closed)
		return
	}

	cb.stats.Failures++
	cb.stats.LastFailureTime = cb.now()
	cb.failures++
	if cb.state == HalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.openedAt = cb.now()
		cb.setState(Open)
	}
}

func (cb *CircuitBreaker) setState(next CircuitBreakerState) {
	if cb.state == next {
		return
	}
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       cb.state.String(),
		"new_state":       next.String(),
		"failure_count":   cb.failures,
	}).Info("Circuit breaker state changed")
	cb.state = next
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state.String()
	return s
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.probing = false
	cb.setState(Closed)
}
