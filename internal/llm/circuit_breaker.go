package llm

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of one provider's breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"    // normal operation
	CircuitOpen     CircuitState = "open"      // rejecting calls until the window elapses
	CircuitHalfOpen CircuitState = "half_open" // one trial call allowed
)

// ErrCircuitOpen is returned by Allow when a call must not be attempted.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// OpenBase is the first open window; each re-open doubles it.
	OpenBase time.Duration
	// OpenMax caps the exponential backoff.
	OpenMax time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenBase:         30 * time.Second,
		OpenMax:          10 * time.Minute,
	}
}

// CircuitBreaker tracks call outcomes for a single provider. Callers ask
// Allow before a call and report the outcome afterwards; rejected calls are
// never reported, so an open breaker is not punished twice.
type CircuitBreaker struct {
	mu       sync.Mutex
	provider string
	config   BreakerConfig

	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	openUntil           time.Time
	openWindow          time.Duration
	trialInFlight       bool

	totalFailures  int64
	totalSuccesses int64

	now func() time.Time // overridable in tests
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(provider string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.OpenBase <= 0 {
		config.OpenBase = DefaultBreakerConfig().OpenBase
	}
	if config.OpenMax < config.OpenBase {
		config.OpenMax = DefaultBreakerConfig().OpenMax
	}
	return &CircuitBreaker{
		provider: provider,
		config:   config,
		state:    CircuitClosed,
		now:      time.Now,
	}
}

// Allow reports whether a call may be attempted. When the open window has
// elapsed it admits exactly one trial call and moves to HalfOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if cb.now().Before(cb.openUntil) {
			return ErrCircuitOpen
		}
		cb.setState(CircuitHalfOpen)
		cb.trialInFlight = true
		return nil

	case CircuitHalfOpen:
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}
	return nil
}

// ReportSuccess records a successful call. A HalfOpen trial success closes
// the circuit and resets both the failure counter and the backoff window.
func (cb *CircuitBreaker) ReportSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.consecutiveFailures = 0
	cb.trialInFlight = false

	if cb.state != CircuitClosed {
		cb.openWindow = 0
		cb.setState(CircuitClosed)
	}
}

// ReportFailure records a failed or timed-out call. Enough consecutive
// failures open the circuit; a HalfOpen trial failure re-opens it with the
// window doubled, capped at OpenMax.
func (cb *CircuitBreaker) ReportFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()
	cb.trialInFlight = false

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.open()
	}
}

// open transitions to Open and extends the backoff window. Caller holds the lock.
func (cb *CircuitBreaker) open() {
	if cb.openWindow == 0 {
		cb.openWindow = cb.config.OpenBase
	} else {
		cb.openWindow *= 2
		if cb.openWindow > cb.config.OpenMax {
			cb.openWindow = cb.config.OpenMax
		}
	}
	cb.openUntil = cb.now().Add(cb.openWindow)
	cb.setState(CircuitOpen)
}

// setState changes state and updates the exported gauge. Caller holds the lock.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	observeBreakerState(cb.provider, s)
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerStats is a point-in-time snapshot for the admin surface.
type BreakerStats struct {
	Provider            string       `json:"provider"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalFailures       int64        `json:"total_failures"`
	TotalSuccesses      int64        `json:"total_successes"`
	LastFailure         time.Time    `json:"last_failure,omitempty"`
	OpenUntil           time.Time    `json:"open_until,omitempty"`
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Provider:            cb.provider,
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		LastFailure:         cb.lastFailure,
		OpenUntil:           cb.openUntil,
	}
}

// BreakerRegistry holds one breaker per provider. Each breaker has its own
// lock, so an outcome on one provider never contends with another.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   BreakerConfig
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// Get returns the breaker for a provider, creating it Closed on first use.
// A cold start therefore begins with every breaker Closed.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(provider, r.config)
	r.breakers[provider] = cb
	return cb
}

// Snapshot returns stats for every registered breaker.
func (r *BreakerRegistry) Snapshot() map[string]BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]BreakerStats, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// AnyOpen reports whether any breaker is currently Open, for health checks.
func (r *BreakerRegistry) AnyOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		if cb.State() == CircuitOpen {
			return true
		}
	}
	return false
}
