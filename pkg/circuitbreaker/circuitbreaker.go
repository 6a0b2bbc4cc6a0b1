// Package circuitbreaker stops calling a dependency that keeps failing and
// probes it again after a cool-down. It guards best-effort side channels such
// as the Redis push feed, where waiting on a dead server for every write costs
// more than skipping the call.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down ends.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling the dependency.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyProbes is returned when all half-open probe slots are taken.
	ErrTooManyProbes = errors.New("circuit breaker probe in flight")
)

// Config tunes a breaker.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int

	// SuccessThreshold consecutive probe successes close it again.
	SuccessThreshold int

	// CoolDown is how long the circuit stays open before probing.
	CoolDown time.Duration

	// MaxProbes bounds concurrent calls in the half-open state.
	MaxProbes int

	OnStateChange func(name string, from, to State)

	// IsFailure decides which errors count. Context cancellation by the
	// caller never does.
	IsFailure func(error) bool

	Clock func() time.Time
}

// DefaultConfig returns the defaults for a named breaker.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         30 * time.Second,
		MaxProbes:        1,
		Clock:            time.Now,
	}
}

// Option customizes Config.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithCoolDown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.CoolDown = d
		}
	}
}

func WithMaxProbes(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxProbes = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(fn func() time.Time) Option {
	return func(c *Config) {
		if fn != nil {
			c.Clock = fn
		}
	}
}

// Counts are the breaker's running totals.
type Counts struct {
	Requests             int
	Rejected             int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := DefaultConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Clock().Sub(cb.openedAt) < cb.cfg.CoolDown {
			cb.counts.Rejected++
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.MaxProbes {
			cb.counts.Rejected++
			return false, ErrTooManyProbes
		}
		cb.probes++
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	if probe {
		cb.probes--
	}

	if !cb.isFailure(err) {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	switch {
	case cb.state == StateHalfOpen,
		cb.state == StateClosed && cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.openedAt = cb.cfg.Clock()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if cb.cfg.IsFailure != nil {
		return cb.cfg.IsFailure(err)
	}
	return true
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.probes = 0

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports open until the next call probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Reset closes the breaker and clears its counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.counts = Counts{}
}
