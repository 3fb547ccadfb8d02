// Package resilience guards the gateway against misbehaving provider
// endpoints. A dead speech provider otherwise turns every incoming call into
// a slow dial timeout; the [Breaker] fast-fails those calls once an endpoint
// has proven unhealthy and probes it again after a cool-down.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call because the guarded
// endpoint is considered down.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the breaker's operating mode.
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through after the
	// cool-down. Success closes the breaker; any failure re-opens it.
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
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels the guarded endpoint in log records.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default: 5.
	MaxFailures int

	// CoolDown is how long the breaker stays open before probing again.
	// Default: 30s.
	CoolDown time.Duration

	// ProbeBudget is how many probe calls the half-open state allows.
	// Default: 3.
	ProbeBudget int

	// Log defaults to slog.Default.
	Log *slog.Logger
}

// Breaker is a three-state circuit breaker (closed, open, half-open).
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probes      int
	probeFails  int
}

// NewBreaker creates a Breaker, filling zero config fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Do runs fn if the breaker allows it. In the open state it returns [ErrOpen]
// without calling fn; in the half-open state only the probe budget gets
// through.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.CoolDown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeFails = 0
		b.cfg.Log.Info("breaker probing endpoint again", "name", b.cfg.Name)
	case StateHalfOpen:
		if b.probes >= b.cfg.ProbeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		// Any probe failure re-opens immediately.
		b.state = StateOpen
		b.failures = b.cfg.MaxFailures
		b.cfg.Log.Warn("breaker re-opened after failed probe", "name", b.cfg.Name)
		return
	}

	b.failures++
	if b.failures >= b.cfg.MaxFailures && b.state == StateClosed {
		b.state = StateOpen
		b.cfg.Log.Warn("breaker opened",
			"name", b.cfg.Name, "consecutive_failures", b.failures)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.cfg.ProbeBudget {
			b.state = StateClosed
			b.failures = 0
			b.probes = 0
			b.probeFails = 0
			b.cfg.Log.Info("breaker closed after successful probes", "name", b.cfg.Name)
		}
		return
	}
	b.failures = 0
}

// State returns the current state. When the cool-down of an open breaker has
// elapsed, [StateHalfOpen] is reported; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}
