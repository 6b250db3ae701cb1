// Package breaker gates calls to a flaky external dependency.
//
// A Breaker starts CLOSED. Consecutive failures beyond the threshold trip it
// OPEN, where calls are rejected until the cooldown elapses. The first call
// after the cooldown moves it to HALF_OPEN, where a bounded number of trial
// calls decide between CLOSED (all trials succeed) and OPEN (any trial fails).
// State lives in memory only; a restart starts CLOSED again.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reelgen/internal/domain"
)

// Phase is the breaker state.
type Phase string

const (
	PhaseClosed   Phase = "CLOSED"
	PhaseOpen     Phase = "OPEN"
	PhaseHalfOpen Phase = "HALF_OPEN"
)

const (
	DefaultFailureThreshold    = 5
	DefaultTimeout             = 60 * time.Second
	DefaultHalfOpenMaxAttempts = 3
)

// Settings configures a Breaker. Zero values fall back to the defaults.
type Settings struct {
	FailureThreshold    int
	Timeout             time.Duration
	HalfOpenMaxAttempts int
	Now                 func() time.Time
	OnStateChange       func(name string, from, to Phase)
}

// Snapshot is a point-in-time copy of the breaker counters.
type Snapshot struct {
	Phase               Phase     `json:"phase"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	HalfOpenSuccesses   int       `json:"half_open_successes"`
}

// OpenError is returned when a call is rejected without reaching the dependency.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q open, retry in %s", e.Name, e.RetryAfter.Round(time.Second))
}

func (e *OpenError) Unwrap() error {
	return domain.ErrCircuitOpen
}

// Breaker is safe for concurrent use. Share one instance per protected dependency.
type Breaker struct {
	name     string
	settings Settings

	mu                  sync.Mutex
	phase               Phase
	consecutiveFailures int
	lastFailureAt       time.Time
	halfOpenSuccesses   int
	halfOpenInFlight    int
	// round increments on every transition into HALF_OPEN so late trial
	// results from an earlier round are ignored.
	round uint64
}

// New returns a CLOSED breaker.
func New(name string, s Settings) *Breaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.HalfOpenMaxAttempts <= 0 {
		s.HalfOpenMaxAttempts = DefaultHalfOpenMaxAttempts
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{name: name, settings: s, phase: PhaseClosed}
}

// Name returns the protected dependency name.
func (b *Breaker) Name() string {
	return b.name
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeAbandoned is a call whose caller gave up; it says nothing about
	// the dependency.
	outcomeAbandoned
)

// Execute runs fn if the breaker admits the call and records its outcome.
// Rejected calls return *OpenError and never invoke fn. An error returned
// after ctx itself is done is not counted against the dependency; callers
// that want slow calls to count apply their own deadline inside fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, round, err := b.before()
	if err != nil {
		return err
	}
	err = fn(ctx)
	switch {
	case err == nil:
		b.after(trial, round, outcomeSuccess)
	case ctx.Err() != nil:
		b.after(trial, round, outcomeAbandoned)
	default:
		b.after(trial, round, outcomeFailure)
	}
	return err
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Phase:               b.phase,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
}

func (b *Breaker) before() (bool, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case PhaseOpen:
		elapsed := b.settings.Now().Sub(b.lastFailureAt)
		if elapsed < b.settings.Timeout {
			return false, 0, &OpenError{Name: b.name, RetryAfter: b.settings.Timeout - elapsed}
		}
		b.round++
		b.setPhase(PhaseHalfOpen)
		b.consecutiveFailures = 0
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight = 1
		return true, b.round, nil
	case PhaseHalfOpen:
		if b.halfOpenSuccesses+b.halfOpenInFlight >= b.settings.HalfOpenMaxAttempts {
			return false, 0, &OpenError{Name: b.name}
		}
		b.halfOpenInFlight++
		return true, b.round, nil
	default:
		return false, 0, nil
	}
}

func (b *Breaker) after(trial bool, round uint64, result outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		if b.phase != PhaseHalfOpen || round != b.round {
			return
		}
		b.halfOpenInFlight--
		switch result {
		case outcomeAbandoned:
			return
		case outcomeFailure:
			b.trip()
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.settings.HalfOpenMaxAttempts {
			b.setPhase(PhaseClosed)
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.halfOpenInFlight = 0
		}
		return
	}

	if b.phase != PhaseClosed || result == outcomeAbandoned {
		return
	}
	if result == outcomeSuccess {
		b.consecutiveFailures = 0
		return
	}
	b.consecutiveFailures++
	b.lastFailureAt = b.settings.Now()
	if b.consecutiveFailures >= b.settings.FailureThreshold {
		b.trip()
	}
}

// trip moves to OPEN and starts a fresh cooldown. Callers hold mu.
func (b *Breaker) trip() {
	b.setPhase(PhaseOpen)
	b.lastFailureAt = b.settings.Now()
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = 0
}

// setPhase runs OnStateChange under mu; the hook must not call back into b.
func (b *Breaker) setPhase(to Phase) {
	from := b.phase
	b.phase = to
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
