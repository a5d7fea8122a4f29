// Package breaker implements the circuit breaker guarding the LLM call.
//
// Three states: Closed (calls pass, failures counted), Open (calls fail fast
// with ErrCircuitOpen until the open timeout elapses), HalfOpen (a bounded
// number of probe calls; all must succeed to close again). Context
// cancellation is never counted for or against the breaker.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the protected call while the
// breaker is open (or while half-open probe slots are exhausted).
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings parameterizes a Breaker. Zero values take the defaults.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker from closed. Default 3.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before allowing
	// half-open probes. Default 30s.
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of probe calls permitted (and required
	// to succeed) while half-open. Default 2.
	HalfOpenMaxCalls int
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.HalfOpenMaxCalls <= 0 {
		s.HalfOpenMaxCalls = 2
	}
	return s
}

// Breaker is a single protected call-site. All transitions happen under one
// mutex; accounting is shared across goroutines.
type Breaker struct {
	name     string
	settings Settings
	logger   *slog.Logger

	mu                sync.Mutex
	state             State
	failures          int
	openedAt          time.Time
	halfOpenPermits   int // probe permits handed out
	halfOpenSuccesses int

	now func() time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		logger:   logger.With("component", "breaker", "breaker", name),
		state:    StateClosed,
		now:      time.Now,
	}
}

// State returns the current state, applying the open→half-open timeout lazily.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// Execute runs fn under the breaker. While open it returns ErrCircuitOpen
// without invoking fn. A cancelled context leaves the breaker state and
// counters untouched.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(ctx, err)
	return err
}

// before admits or rejects a call and hands out half-open permits.
func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenPermits >= b.settings.HalfOpenMaxCalls {
			return ErrCircuitOpen
		}
		b.halfOpenPermits++
	}
	return nil
}

// after records the outcome of an admitted call.
func (b *Breaker) after(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Cancellation is not a provider failure: return the probe permit (if
	// any) and leave all counters alone.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		if b.state == StateHalfOpen && b.halfOpenPermits > 0 {
			b.halfOpenPermits--
		}
		return
	}

	if err != nil {
		b.onFailureLocked()
		return
	}
	b.onSuccessLocked()
}

func (b *Breaker) onFailureLocked() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		// A failed probe reopens immediately and restarts the open timer.
		b.openLocked()
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.HalfOpenMaxCalls {
			b.closeLocked()
		}
	}
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.halfOpenPermits = 0
	b.halfOpenSuccesses = 0
	b.logger.Warn("circuit opened", "open_timeout", b.settings.OpenTimeout)
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.failures = 0
	b.halfOpenPermits = 0
	b.halfOpenSuccesses = 0
	b.logger.Info("circuit closed after successful probes")
}

// refreshLocked moves an expired open state to half-open.
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.OpenTimeout {
		b.state = StateHalfOpen
		b.halfOpenPermits = 0
		b.halfOpenSuccesses = 0
		b.logger.Info("circuit half-open, allowing probes",
			"max_probes", b.settings.HalfOpenMaxCalls)
	}
}
