package wallet

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// RetryConfig configures retry behavior for transport-level provider failures.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0)
	Jitter float64
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close
	SuccessThreshold int
	// Timeout is how long the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// OnStateChange is called when the circuit state changes
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu sync.RWMutex

	config CircuitBreakerConfig
	state  CircuitState
	now    func() time.Time

	failures  int
	successes int
	lastError error
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Allow checks if a request should be allowed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) > cb.config.Timeout {
			cb.transitionTo(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = err

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	oldState := cb.state
	cb.state = newState

	switch newState {
	case CircuitClosed:
		cb.failures = 0
		cb.successes = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.successes = 0
	case CircuitHalfOpen:
		cb.successes = 0
	}

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// LastError returns the last recorded error.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.lastError
}

// ResilientProvider wraps a Provider with retry and circuit breaking.
// Node-level JSON-RPC errors are answers, not failures: they are returned
// as-is and do not trip the breaker.
type ResilientProvider struct {
	next           Provider
	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker

	// methods that must never be re-sent
	noRetry map[string]bool

	totalCalls   int64
	retriedCalls int64
	failedCalls  int64
}

// NewResilientProvider wraps next.
func NewResilientProvider(next Provider, retry RetryConfig, breaker CircuitBreakerConfig) *ResilientProvider {
	return &ResilientProvider{
		next:           next,
		retryConfig:    retry,
		circuitBreaker: NewCircuitBreaker(breaker),
		noRetry: map[string]bool{
			"eth_sendRawTransaction": true,
			"eth_sendTransaction":    true,
		},
	}
}

// Call executes method with retry and circuit breaking.
func (rp *ResilientProvider) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	atomic.AddInt64(&rp.totalCalls, 1)

	if err := rp.circuitBreaker.Allow(); err != nil {
		atomic.AddInt64(&rp.failedCalls, 1)
		return err
	}

	maxRetries := rp.retryConfig.MaxRetries
	if rp.noRetry[method] {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&rp.retriedCalls, 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rp.calculateBackoff(attempt)):
			}
		}

		lastErr = rp.next.Call(ctx, result, method, params...)
		if lastErr == nil {
			rp.circuitBreaker.RecordSuccess()
			return nil
		}
		if _, isAnswer := AsProviderError(lastErr); isAnswer {
			rp.circuitBreaker.RecordSuccess()
			return lastErr
		}
		if ctx.Err() != nil || !isRetryable(lastErr) {
			break
		}
	}

	rp.circuitBreaker.RecordFailure(lastErr)
	atomic.AddInt64(&rp.failedCalls, 1)
	return lastErr
}

// Breaker exposes the circuit breaker for health reporting.
func (rp *ResilientProvider) Breaker() *CircuitBreaker { return rp.circuitBreaker }

// Stats returns call counters.
func (rp *ResilientProvider) Stats() (total, retried, failed int64) {
	return atomic.LoadInt64(&rp.totalCalls), atomic.LoadInt64(&rp.retriedCalls), atomic.LoadInt64(&rp.failedCalls)
}

func (rp *ResilientProvider) calculateBackoff(attempt int) time.Duration {
	multiplier := rp.retryConfig.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	backoff := float64(rp.retryConfig.InitialBackoff) * math.Pow(multiplier, float64(attempt-1))
	if rp.retryConfig.MaxBackoff > 0 && backoff > float64(rp.retryConfig.MaxBackoff) {
		backoff = float64(rp.retryConfig.MaxBackoff)
	}
	if rp.retryConfig.Jitter > 0 {
		backoff += backoff * rp.retryConfig.Jitter * (rand.Float64()*2 - 1)
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	return true
}
