// Package resilience provides circuit breaker and retry patterns for external service calls.
package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen lets one trial call through.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls breaker behavior.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	Threshold int

	// Cooldown is how long the circuit stays open before a trial call is
	// allowed. Default: 30s.
	Cooldown time.Duration

	// ShouldTrip decides whether an error counts as a failure. If nil,
	// every non-nil error counts.
	ShouldTrip func(err error) bool

	// OnStateChange is called with the breaker name on every transition.
	// If nil, transitions are logged.
	OnStateChange func(name string, from, to CircuitState)
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	mu    sync.Mutex
	state CircuitState

	failures int
	openedAt time.Time
	probing  bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return err != nil }
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = func(name string, from, to CircuitState) {
			zap.L().Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	return &Breaker{name: name, cfg: cfg, nowFunc: time.Now}
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Call runs fn through the breaker. It returns ErrCircuitOpen without
// calling fn while the circuit is open or a trial call is already in flight.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current circuit state. An open circuit whose cool-down
// has passed reports half-open.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cfg.Cooldown {
			return eris.Wrapf(ErrCircuitOpen, "%s", b.name)
		}
		b.transition(CircuitHalfOpen)
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return eris.Wrapf(ErrCircuitOpen, "%s: trial call in flight", b.name)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !b.cfg.ShouldTrip(err) {
		b.failures = 0
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
		}
		return
	}

	b.failures++
	switch b.state {
	case CircuitHalfOpen:
		b.open()
	case CircuitClosed:
		if b.failures >= b.cfg.Threshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.openedAt = b.nowFunc()
	b.transition(CircuitOpen)
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if from != to {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Breakers is a registry of breakers sharing one config, keyed by name.
type Breakers struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg)
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of every breaker's state, keyed by name.
func (r *Breakers) States() map[string]string {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for n := range r.breakers {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = r.Get(n).State().String()
	}
	return out
}
