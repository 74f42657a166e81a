// Package resilience guards calls to unreliable dependencies with a circuit
// breaker. [Sink] applies one to the detection store.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the cool-down elapses.
	Open

	// HalfOpen lets a single probe call through. Its outcome closes or
	// re-opens the breaker.
	HalfOpen
)

// String returns the lower-case state name.
func (s State) String() string {
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

// BreakerConfig configures a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing.
	// Default: 30s.
	CoolDown time.Duration

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		now:         cfg.Now,
	}
}

// Do calls fn unless the breaker is open, and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is the probe.
func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false, ErrOpen
		}
		b.state = HalfOpen
		b.probing = true
		slog.Info("circuit breaker probing", "name", b.name)
		return true, nil
	case HalfOpen:
		if b.probing {
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
		if err != nil {
			b.state, b.openedAt = Open, b.now()
			slog.Warn("circuit breaker re-opened", "name", b.name, "err", err)
			return
		}
		b.state, b.failures = Closed, 0
		slog.Info("circuit breaker closed", "name", b.name)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == Closed && b.failures >= b.maxFailures {
		b.state, b.openedAt = Open, b.now()
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures, "err", err)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [HalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.coolDown {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state, b.failures, b.probing = Closed, 0, false
}
