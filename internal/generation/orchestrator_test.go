package generation

import (
	"context"
	"errors"
	"testing"

	"reelgen/internal/breaker"
	"reelgen/internal/domain"
)

func TestSubmitDebitsAndRecordsTask(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)

	job := f.submit(t, 8)

	if got := f.balance(t); got != 9 {
		t.Fatalf("balance = %d, want 9", got)
	}
	stored := f.job(t, job.ID)
	if stored.State != domain.JobStateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED", stored.State)
	}
	if stored.ExternalTaskID == nil || *stored.ExternalTaskID != "task-"+job.ID {
		t.Fatalf("external task id = %v", stored.ExternalTaskID)
	}
	if stored.CostCredits != 1 {
		t.Fatalf("cost = %d, want 1", stored.CostCredits)
	}
	if !containsAll(stored.Prompt, "Iced Palm Sugar Coffee", "Slow pour over ice.", "vertical 8 second") {
		t.Fatalf("prompt = %q", stored.Prompt)
	}
}

func TestSubmitInsufficientCreditCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x",
	})
	var insufficient *domain.InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditError, got %v", err)
	}
	if insufficient.Required != 1 || insufficient.Available != 0 {
		t.Fatalf("unexpected shortfall: %+v", insufficient)
	}
	if f.provider.Calls() != 0 {
		t.Fatal("provider was called without credit")
	}
	stuck, _ := f.store.ListStuck(context.Background(), f.clock.Now().Add(1), 0)
	if len(stuck) != 0 {
		t.Fatalf("expected no jobs, got %d", len(stuck))
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	tests := []SubmitRequest{
		{Format: "9:16", DurationSeconds: 8, Title: "x"},
		{OwnerID: owner, Format: "9:16", DurationSeconds: 8},
		{OwnerID: owner, Format: "3:2", DurationSeconds: 8, Title: "x"},
		{OwnerID: owner, Format: "9:16", DurationSeconds: 0, Title: "x"},
		{OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x", ImageURLs: []string{" "}},
	}
	for i, req := range tests {
		if _, err := f.orchestrator.Submit(context.Background(), req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestSubmitProviderErrorRefundsAndFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	f.provider.err = errProviderDown

	job, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		OwnerID: owner, Format: "1:1", DurationSeconds: 15, Title: "x",
	})
	if !errors.Is(err, domain.ErrSubmissionFailed) || !errors.Is(err, errProviderDown) {
		t.Fatalf("expected submission failure wrapping provider error, got %v", err)
	}
	if job == nil {
		t.Fatal("expected the failed job to be returned")
	}
	if job.State != domain.JobStateFailed || job.FailureReason == nil || *job.FailureReason != SubmissionFailedReason {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.RefundPending {
		t.Fatal("refund flag left set after successful refund")
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if n := f.refundCount(t, job.ID); n != 1 {
		t.Fatalf("refunds = %d, want 1", n)
	}
}

func TestSubmitRefundFailureLeavesRecoverableState(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	f.provider.err = errProviderDown
	f.store.setFailAppend(failRefunds)

	job, err := f.orchestrator.Submit(context.Background(), SubmitRequest{
		OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x",
	})
	if !errors.Is(err, domain.ErrRefundWriteFailed) {
		t.Fatalf("expected ErrRefundWriteFailed, got %v", err)
	}
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed too, got %v", err)
	}
	stored := f.job(t, job.ID)
	if stored.State != domain.JobStateFailed || !stored.RefundPending {
		t.Fatalf("expected FAILED with refund pending, got %s pending=%v", stored.State, stored.RefundPending)
	}
	if got := f.balance(t); got != 9 {
		t.Fatalf("balance = %d, want 9 until the refund lands", got)
	}

	f.store.setFailAppend(nil)
	if err := f.reconciler.RetryRefund(context.Background(), stored); err != nil {
		t.Fatalf("RetryRefund: %v", err)
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if f.job(t, job.ID).RefundPending {
		t.Fatal("refund flag still set")
	}
}

func TestSubmitBreakerTripsAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	f.provider.err = errProviderDown
	req := SubmitRequest{OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x"}

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		if _, err := f.orchestrator.Submit(context.Background(), req); !errors.Is(err, errProviderDown) {
			t.Fatalf("attempt %d: expected provider error, got %v", i+1, err)
		}
	}
	if got := f.breaker.Snapshot().Phase; got != breaker.PhaseOpen {
		t.Fatalf("breaker = %s, want OPEN", got)
	}

	job, err := f.orchestrator.Submit(context.Background(), req)
	if !errors.Is(err, domain.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var openErr *breaker.OpenError
	if !errors.As(err, &openErr) || openErr.RetryAfter <= 0 {
		t.Fatalf("expected OpenError with cooldown, got %v", err)
	}
	if calls := f.provider.Calls(); calls != breaker.DefaultFailureThreshold {
		t.Fatalf("provider calls = %d, want %d", calls, breaker.DefaultFailureThreshold)
	}
	if job.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want FAILED", job.State)
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
}

func TestJobHidesOtherOwners(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	job := f.submit(t, 8)

	if _, err := f.orchestrator.Job(context.Background(), owner, job.ID); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if _, err := f.orchestrator.Job(context.Background(), "someone-else", job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitCompletesAfterCallerDisconnects(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	f.store.honorCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.during = cancel

	job, err := f.orchestrator.Submit(ctx, SubmitRequest{
		OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	stored := f.job(t, job.ID)
	if stored.State != domain.JobStateSubmitted || stored.ExternalTaskID == nil {
		t.Fatalf("state = %s task = %v", stored.State, stored.ExternalTaskID)
	}
	if got := f.balance(t); got != 9 {
		t.Fatalf("balance = %d, want 9", got)
	}
	if snap := f.breaker.Snapshot(); snap.ConsecutiveFailures != 0 {
		t.Fatalf("breaker counted the disconnect: %+v", snap)
	}
}

func TestSubmitRefundsAfterCallerDisconnects(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 10)
	f.store.honorCtx = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.provider.during = cancel
	f.provider.err = errProviderDown

	job, err := f.orchestrator.Submit(ctx, SubmitRequest{
		OwnerID: owner, Format: "9:16", DurationSeconds: 8, Title: "x",
	})
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if errors.Is(err, domain.ErrRefundWriteFailed) {
		t.Fatalf("refund should not fail: %v", err)
	}
	stored := f.job(t, job.ID)
	if stored.State != domain.JobStateFailed || stored.RefundPending {
		t.Fatalf("state = %s refund_pending = %v", stored.State, stored.RefundPending)
	}
	if got := f.balance(t); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if n := f.refundCount(t, job.ID); n != 1 {
		t.Fatalf("refunds = %d, want 1", n)
	}
}
