package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reelgen/internal/adapter/memory"
	"reelgen/internal/breaker"
	"reelgen/internal/domain"
	"reelgen/internal/ledger"
	"reelgen/internal/providers/video"
	"reelgen/internal/quality"
	"reelgen/internal/webhook"
)

const owner = "owner-1"

var errProviderDown = errors.New("provider down")

type stubProvider struct {
	mu       sync.Mutex
	calls    int
	err      error
	failWhen func(video.SubmitRequest) bool
	// during runs inside the call, before the provider answers.
	during func()
}

func (p *stubProvider) Submit(ctx context.Context, req video.SubmitRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.during != nil {
		p.during()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.err != nil {
		return "", p.err
	}
	if p.failWhen != nil && p.failWhen(req) {
		return "", errProviderDown
	}
	return "task-" + req.JobID, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
}

func (p *recordingPublisher) PublishJSON(subject string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, v)
	return nil
}

type stubArchiver struct {
	ref string
	err error
}

func (a stubArchiver) Store(context.Context, string, string) (string, error) {
	return a.ref, a.err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// testStore wraps the memory store with two faults the database can show:
// failing ledger appends and refusing writes once ctx is done, as pgx does.
type testStore struct {
	*memory.Store

	mu         sync.Mutex
	failAppend func(entry domain.LedgerEntry) error
	honorCtx   bool
}

func (s *testStore) setFailAppend(fn func(entry domain.LedgerEntry) error) {
	s.mu.Lock()
	s.failAppend = fn
	s.mu.Unlock()
}

func (s *testStore) write(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.honorCtx {
		return ctx.Err()
	}
	return nil
}

func (s *testStore) AppendIdempotent(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	if err := s.write(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	fail := s.failAppend
	s.mu.Unlock()
	if fail != nil {
		if err := fail(entry); err != nil {
			return false, err
		}
	}
	return s.Store.AppendIdempotent(ctx, entry)
}

func (s *testStore) Debit(ctx context.Context, entry domain.LedgerEntry) (int64, error) {
	if err := s.write(ctx); err != nil {
		return 0, err
	}
	return s.Store.Debit(ctx, entry)
}

func (s *testStore) Create(ctx context.Context, job *domain.Job) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	return s.Store.Create(ctx, job)
}

func (s *testStore) SetExternalTaskID(ctx context.Context, jobID, taskID string) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	return s.Store.SetExternalTaskID(ctx, jobID, taskID)
}

func (s *testStore) MarkCompleted(ctx context.Context, jobID string, c domain.Completion) (bool, error) {
	if err := s.write(ctx); err != nil {
		return false, err
	}
	return s.Store.MarkCompleted(ctx, jobID, c)
}

func (s *testStore) MarkFailed(ctx context.Context, jobID string, f domain.Failure) (bool, error) {
	if err := s.write(ctx); err != nil {
		return false, err
	}
	return s.Store.MarkFailed(ctx, jobID, f)
}

func (s *testStore) ClearRefundPending(ctx context.Context, jobID string) error {
	if err := s.write(ctx); err != nil {
		return err
	}
	return s.Store.ClearRefundPending(ctx, jobID)
}

type fixture struct {
	store        *testStore
	ledger       *ledger.Service
	provider     *stubProvider
	breaker      *breaker.Breaker
	events       *recordingPublisher
	clock        *fakeClock
	orchestrator *Orchestrator
	reconciler   *Reconciler
}

type fixtureOption func(*ReconcilerDeps)

func withArchiver(a Archiver) fixtureOption {
	return func(d *ReconcilerDeps) { d.Archiver = a }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := &testStore{Store: memory.NewStore()}
	store.SetClock(clock.Now)
	logger := zerolog.Nop()
	ledgerSvc := ledger.NewService(store, logger, ledger.Options{RefundAttempts: 2})
	provider := &stubProvider{}
	br := breaker.New("video-provider", breaker.Settings{Now: clock.Now})
	events := &recordingPublisher{}

	rd := ReconcilerDeps{
		Jobs:        store,
		Ledger:      ledgerSvc,
		Policy:      quality.Policy{PassThreshold: quality.DefaultPassThreshold},
		Events:      events,
		EventPrefix: "reelgen.jobs",
		Logger:      logger,
		Now:         clock.Now,
	}
	for _, opt := range opts {
		opt(&rd)
	}

	return &fixture{
		store:    store,
		ledger:   ledgerSvc,
		provider: provider,
		breaker:  br,
		events:   events,
		clock:    clock,
		orchestrator: NewOrchestrator(OrchestratorDeps{
			Jobs:     store,
			Ledger:   ledgerSvc,
			Breaker:  br,
			Provider: provider,
			Logger:   logger,
		}),
		reconciler: NewReconciler(rd),
	}
}

func (f *fixture) fund(t *testing.T, credits int64) {
	t.Helper()
	if _, err := f.ledger.Credit(context.Background(), owner, credits, fmt.Sprintf("pay-%d", credits)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), owner)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func (f *fixture) submit(t *testing.T, durationSeconds int) *domain.Job {
	t.Helper()
	job, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		OwnerID:         owner,
		Format:          "9:16",
		DurationSeconds: durationSeconds,
		Title:           "iced palm sugar coffee",
		Script:          "Slow pour over ice.",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

func (f *fixture) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s): %v", id, err)
	}
	return job
}

// deliver runs a raw vendor payload through normalization and the reconciler.
func (f *fixture) deliver(t *testing.T, body string) (Outcome, error) {
	t.Helper()
	n, err := webhook.Normalize([]byte(body))
	if err != nil {
		t.Fatalf("Normalize(%s): %v", body, err)
	}
	return f.reconciler.Handle(context.Background(), n)
}

func (f *fixture) refundCount(t *testing.T, jobID string) int {
	t.Helper()
	entries, err := f.ledger.Entries(context.Background(), owner, ledger.MaxEntriesLimit)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	n := 0
	for _, e := range entries {
		if e.Kind == domain.EntryKindRefund && e.ExternalReference != nil && *e.ExternalReference == jobID {
			n++
		}
	}
	return n
}

func failRefunds(entry domain.LedgerEntry) error {
	if entry.Kind == domain.EntryKindRefund {
		return errors.New("ledger unavailable")
	}
	return nil
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
