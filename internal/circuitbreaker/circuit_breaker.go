// Package circuitbreaker implements a per-key circuit breaker that
// protects degraded upstream sources from being hammered.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls are allowed
	StateClosed State = "closed"
	// StateOpen means calls are short-circuited without network I/O
	StateOpen State = "open"
	// StateHalfOpen means a probe call is allowed to test recovery
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the breaker short-circuits a call
var ErrOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int
	// CoolDown is how long the breaker stays open before allowing a probe
	CoolDown time.Duration
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 3,
		CoolDown:         60 * time.Second,
	}
}

// Breaker is a single circuit breaker. Its state is shared by
// concurrent callers, so every transition happens under the mutex.
type Breaker struct {
	cfg *Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	now              func() time.Time // injected clock for tests
}

// New creates a closed breaker
func New(cfg *Config) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Allow reports whether a call may proceed. While open it returns
// ErrOpen until the cool-down elapses, then transitions to half-open
// and admits a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return ErrOpen
		}
		b.state = StateHalfOpen
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and clears the failure run
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.consecutiveFails = 0
}

// RecordFailure counts a failure; the breaker opens when the
// consecutive-failure threshold is reached or a half-open probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	if b.state == StateHalfOpen || b.consecutiveFails >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// GetState returns the current state
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Manager holds one breaker per key. Keys are (account, operation)
// pairs so one degraded operation never short-circuits the others.
type Manager struct {
	cfg      *Config
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates an empty breaker manager
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for a key, creating it on first use
func (m *Manager) Get(key string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[key]; ok {
		return b
	}
	b := New(m.cfg)
	m.breakers[key] = b
	return b
}

// States returns a snapshot of every breaker's state
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.breakers))
	for key, b := range m.breakers {
		states[key] = b.GetState()
	}
	return states
}
