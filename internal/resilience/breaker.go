package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	BreakerOpen

	// BreakerHalfOpen lets a single trial call through. Its outcome closes or
	// re-opens the breaker.
	BreakerHalfOpen
)

// String returns the human-readable name of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs of a [Breaker].
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// Threshold is the number of consecutive failures that opens the breaker.
	// Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Now overrides the clock; tests use it to skip the cooldown.
	Now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker]. Zero config fields take defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{name: cfg.Name, threshold: cfg.Threshold, cooldown: cfg.Cooldown, now: cfg.Now}
}

// Do runs fn unless the breaker is open. While half-open only one caller at a
// time is let through; the rest get [ErrCircuitOpen].
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = BreakerHalfOpen
		slog.Info("circuit breaker half-open", "name", b.name)
	}
	switch {
	case b.state == BreakerOpen, b.state == BreakerHalfOpen && b.probing:
		b.mu.Unlock()
		return ErrCircuitOpen
	case b.state == BreakerHalfOpen:
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err == nil {
		if b.state != BreakerClosed {
			slog.Info("circuit breaker closed", "name", b.name)
		}
		b.state = BreakerClosed
		b.failures = 0
		return nil
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
	return err
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [BreakerHalfOpen]; the transition itself happens on the next Do.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}
