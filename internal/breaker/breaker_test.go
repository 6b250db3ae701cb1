package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelgen/internal/domain"
)

var errBoom = errors.New("boom")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock) *Breaker {
	return New("provider", Settings{Now: clock.Now})
}

func tripOpen(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < DefaultFailureThreshold; i++ {
		if err := b.Execute(context.Background(), fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected errBoom, got %v", i+1, err)
		}
	}
	if got := b.Snapshot().Phase; got != PhaseOpen {
		t.Fatalf("expected OPEN after %d failures, got %s", DefaultFailureThreshold, got)
	}
}

func TestBreakerTripsAfterThresholdAndRejectsWithoutCalling(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		_ = b.Execute(context.Background(), fail)
		if got := b.Snapshot().Phase; got != PhaseClosed {
			t.Fatalf("after %d failures expected CLOSED, got %s", i+1, got)
		}
	}
	_ = b.Execute(context.Background(), fail)

	snap := b.Snapshot()
	if snap.Phase != PhaseOpen {
		t.Fatalf("expected OPEN, got %s", snap.Phase)
	}
	if snap.ConsecutiveFailures != DefaultFailureThreshold {
		t.Fatalf("consecutive failures = %d, want %d", snap.ConsecutiveFailures, DefaultFailureThreshold)
	}
	if !snap.LastFailureAt.Equal(clock.Now()) {
		t.Fatalf("last failure at = %v, want %v", snap.LastFailureAt, clock.Now())
	}

	clock.Advance(10 * time.Second)
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("open breaker invoked the protected call")
	}
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if openErr.RetryAfter != 50*time.Second {
		t.Fatalf("retry after = %s, want 50s", openErr.RetryAfter)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.Snapshot().ConsecutiveFailures; got != 0 {
		t.Fatalf("consecutive failures = %d, want 0", got)
	}
	for i := 0; i < DefaultFailureThreshold-1; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	if got := b.Snapshot().Phase; got != PhaseClosed {
		t.Fatalf("expected CLOSED, got %s", got)
	}
}

func TestBreakerHalfOpenClosesAfterTrialSuccesses(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(t, b)

	clock.Advance(DefaultTimeout + time.Millisecond)

	var phaseDuringCall Phase
	err := b.Execute(context.Background(), func(context.Context) error {
		phaseDuringCall = b.Snapshot().Phase
		return nil
	})
	if err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if phaseDuringCall != PhaseHalfOpen {
		t.Fatalf("phase during first trial = %s, want HALF_OPEN", phaseDuringCall)
	}
	if got := b.Snapshot().HalfOpenSuccesses; got != 1 {
		t.Fatalf("half-open successes = %d, want 1", got)
	}

	for i := 1; i < DefaultHalfOpenMaxAttempts; i++ {
		if err := b.Execute(context.Background(), succeed); err != nil {
			t.Fatalf("trial %d: %v", i+1, err)
		}
	}

	snap := b.Snapshot()
	if snap.Phase != PhaseClosed {
		t.Fatalf("expected CLOSED, got %s", snap.Phase)
	}
	if snap.ConsecutiveFailures != 0 || snap.HalfOpenSuccesses != 0 {
		t.Fatalf("counters not reset: %+v", snap)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(t, b)

	clock.Advance(DefaultTimeout)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if err := b.Execute(context.Background(), fail); !errors.Is(err, errBoom) {
		t.Fatalf("second trial: expected errBoom, got %v", err)
	}

	snap := b.Snapshot()
	if snap.Phase != PhaseOpen {
		t.Fatalf("expected OPEN, got %s", snap.Phase)
	}
	if snap.HalfOpenSuccesses != 0 {
		t.Fatalf("half-open successes = %d, want 0", snap.HalfOpenSuccesses)
	}
	if !snap.LastFailureAt.Equal(clock.Now()) {
		t.Fatalf("cooldown not restarted: last failure at %v", snap.LastFailureAt)
	}

	err := b.Execute(context.Background(), succeed)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen right after re-open, got %v", err)
	}

	// Next cooldown cycle starts clean.
	clock.Advance(DefaultTimeout)
	for i := 0; i < DefaultHalfOpenMaxAttempts; i++ {
		if err := b.Execute(context.Background(), succeed); err != nil {
			t.Fatalf("trial %d: %v", i+1, err)
		}
	}
	if got := b.Snapshot().Phase; got != PhaseClosed {
		t.Fatalf("expected CLOSED, got %s", got)
	}
}

func TestBreakerHalfOpenBoundsConcurrentTrials(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(t, b)
	clock.Advance(DefaultTimeout)

	release := make(chan struct{})
	started := make(chan struct{}, DefaultHalfOpenMaxAttempts)
	var wg sync.WaitGroup
	for i := 0; i < DefaultHalfOpenMaxAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(context.Background(), func(context.Context) error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
		<-started
	}

	err := b.Execute(context.Background(), succeed)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected extra trial to be rejected, got %v", err)
	}

	close(release)
	wg.Wait()
	if got := b.Snapshot().Phase; got != PhaseClosed {
		t.Fatalf("expected CLOSED, got %s", got)
	}
}

func TestBreakerReportsStateChanges(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("provider", Settings{
		FailureThreshold:    2,
		Timeout:             time.Second,
		HalfOpenMaxAttempts: 1,
		Now:                 clock.Now,
		OnStateChange: func(name string, from, to Phase) {
			transitions = append(transitions, name+":"+string(from)+"->"+string(to))
		},
	})

	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = b.Execute(context.Background(), succeed)

	want := []string{
		"provider:CLOSED->OPEN",
		"provider:OPEN->HALF_OPEN",
		"provider:HALF_OPEN->CLOSED",
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreakerIgnoresCallsAbandonedByCaller(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < DefaultFailureThreshold*2; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		err := b.Execute(ctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	snap := b.Snapshot()
	if snap.Phase != PhaseClosed || snap.ConsecutiveFailures != 0 {
		t.Fatalf("abandoned calls counted: %+v", snap)
	}

	// A deadline applied inside the call is the dependency being slow.
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, time.Nanosecond)
		defer cancel()
		<-callCtx.Done()
		return callCtx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if got := b.Snapshot().ConsecutiveFailures; got != 1 {
		t.Fatalf("consecutive failures = %d, want 1", got)
	}
}

func TestBreakerAbandonedTrialFreesHalfOpenSlot(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	for i := 0; i < DefaultFailureThreshold; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(DefaultTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	_ = b.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if got := b.Snapshot().Phase; got != PhaseHalfOpen {
		t.Fatalf("expected HALF_OPEN after abandoned trial, got %s", got)
	}
	for i := 0; i < DefaultHalfOpenMaxAttempts; i++ {
		if err := b.Execute(context.Background(), succeed); err != nil {
			t.Fatalf("trial %d: %v", i, err)
		}
	}
	if got := b.Snapshot().Phase; got != PhaseClosed {
		t.Fatalf("expected CLOSED, got %s", got)
	}
}
