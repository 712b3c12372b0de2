package http

import (
	"errors"
	"sync"
	"time"

	"3tcapital/ms_facturacion_pe/internal/core/gateway"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	CircuitBreakerClosed   CircuitBreakerState = iota // Normal operation
	CircuitBreakerOpen                                // Requests fail fast
	CircuitBreakerHalfOpen                            // Probing whether the service recovered
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops dispatching to a service that keeps failing.
// One breaker is shared by every client of the same service type.
type CircuitBreaker struct {
	maxFailures      int
	failureThreshold float64 // 0.0-1.0, evaluated once maxFailures calls were seen
	cooldownPeriod   time.Duration
	successThreshold int // successes needed to close from half-open

	mu              sync.Mutex
	state           CircuitBreakerState
	failureCount    int
	successCount    int
	totalRequests   int
	lastStateChange time.Time
	now             func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxFailures int, failureThreshold float64, cooldownPeriod time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 10
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = 0.5
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = 30 * time.Second
	}

	return &CircuitBreaker{
		maxFailures:      maxFailures,
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		successThreshold: 3,
		state:            CircuitBreakerClosed,
		now:              time.Now,
	}
}

// errNotCounted marks an outcome that says nothing about service health,
// such as a cancelled or never-sent call. Execute records neither success nor failure.
var errNotCounted = errors.New("outcome not counted")

// Execute runs fn unless the circuit is open, and accounts its result.
// fn reports a non-nil error only for failures that should count against the service.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return gateway.ErrCircuitOpen
	}

	err := fn()
	if errors.Is(err, errNotCounted) {
		return nil
	}
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitBreakerOpen {
		return true
	}
	if cb.now().Sub(cb.lastStateChange) < cb.cooldownPeriod {
		return false
	}
	cb.transition(CircuitBreakerHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	if err != nil {
		cb.failureCount++
		if cb.state == CircuitBreakerHalfOpen {
			cb.transition(CircuitBreakerOpen)
			return
		}
		failureRate := float64(cb.failureCount) / float64(cb.totalRequests)
		if cb.failureCount >= cb.maxFailures ||
			(cb.totalRequests >= cb.maxFailures && failureRate >= cb.failureThreshold) {
			cb.transition(CircuitBreakerOpen)
		}
		return
	}

	cb.successCount++
	switch cb.state {
	case CircuitBreakerHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitBreakerClosed)
		}
	case CircuitBreakerClosed:
		if cb.successCount > cb.failureCount {
			cb.failureCount = 0
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(state CircuitBreakerState) {
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.successCount = 0
	if state == CircuitBreakerClosed {
		cb.failureCount = 0
		cb.totalRequests = 0
	}
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats is a point-in-time view of the breaker counters.
type CircuitBreakerStats struct {
	State         CircuitBreakerState
	FailureCount  int
	SuccessCount  int
	TotalRequests int
	FailureRate   float64
}

// Stats returns current circuit breaker statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failureRate := 0.0
	if cb.totalRequests > 0 {
		failureRate = float64(cb.failureCount) / float64(cb.totalRequests)
	}

	return CircuitBreakerStats{
		State:         cb.state,
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		TotalRequests: cb.totalRequests,
		FailureRate:   failureRate,
	}
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(CircuitBreakerClosed)
}

// BreakerSet hands out one breaker per service type.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[gateway.ServiceType]*CircuitBreaker
	maxFailures int
	threshold   float64
	cooldown    time.Duration
}

// NewBreakerSet creates breakers lazily with the given settings.
func NewBreakerSet(maxFailures int, threshold float64, cooldown time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[gateway.ServiceType]*CircuitBreaker),
		maxFailures: maxFailures,
		threshold:   threshold,
		cooldown:    cooldown,
	}
}

// For returns the breaker of a service type. A nil set yields nil.
func (s *BreakerSet) For(t gateway.ServiceType) *CircuitBreaker {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[t]
	if !ok {
		cb = NewCircuitBreaker(s.maxFailures, s.threshold, s.cooldown)
		s.breakers[t] = cb
	}
	return cb
}
