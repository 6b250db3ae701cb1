package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"reelgen/internal/domain"
)

func strPtr(s string) *string { return &s }

func newSubmittedJob(id string) *domain.Job {
	return &domain.Job{ID: id, OwnerID: "owner-1", State: domain.JobStateSubmitted, Format: "9:16", DurationSeconds: 10, CostCredits: 1}
}

func TestStoreTerminalTransitionsApplyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if err := s.Create(ctx, newSubmittedJob("job-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetExternalTaskID(ctx, "job-1", "task-1"); err != nil {
		t.Fatalf("SetExternalTaskID: %v", err)
	}

	applied, err := s.MarkCompleted(ctx, "job-1", domain.Completion{ArtifactURL: "https://cdn.example.com/a.mp4", QualityScore: 1})
	if err != nil || !applied {
		t.Fatalf("MarkCompleted applied=%v err=%v", applied, err)
	}
	applied, err = s.MarkFailed(ctx, "job-1", domain.Failure{Reason: "late failure"})
	if err != nil || applied {
		t.Fatalf("second terminal transition applied=%v err=%v", applied, err)
	}

	job, err := s.GetByExternalTaskID(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetByExternalTaskID: %v", err)
	}
	if job.State != domain.JobStateCompleted || job.FailureReason != nil || job.RefundPending {
		t.Fatalf("job mutated by losing transition: %+v", job)
	}
}

func TestStoreMarkFailedFlagsRefund(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Create(ctx, newSubmittedJob("job-1"))

	if applied, err := s.MarkFailed(ctx, "job-1", domain.Failure{Reason: "boom"}); err != nil || !applied {
		t.Fatalf("MarkFailed applied=%v err=%v", applied, err)
	}
	pending, _ := s.ListRefundPending(ctx, 10)
	if len(pending) != 1 || pending[0].ID != "job-1" {
		t.Fatalf("refund pending = %+v", pending)
	}
	if err := s.ClearRefundPending(ctx, "job-1"); err != nil {
		t.Fatalf("ClearRefundPending: %v", err)
	}
	pending, _ = s.ListRefundPending(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("refund still pending: %+v", pending)
	}
}

func TestStoreTaskIDUnique(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Create(ctx, newSubmittedJob("job-1"))
	_ = s.Create(ctx, newSubmittedJob("job-2"))
	if err := s.SetExternalTaskID(ctx, "job-1", "task-1"); err != nil {
		t.Fatalf("SetExternalTaskID: %v", err)
	}
	if err := s.SetExternalTaskID(ctx, "job-2", "task-1"); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
	if err := s.SetExternalTaskID(ctx, "job-1", "task-9"); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestStoreListStuck(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return base })
	_ = s.Create(ctx, newSubmittedJob("old"))
	s.SetClock(func() time.Time { return base.Add(3 * time.Hour) })
	_ = s.Create(ctx, newSubmittedJob("new"))

	stuck, err := s.ListStuck(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "old" {
		t.Fatalf("stuck = %+v", stuck)
	}
}

func TestStoreLedgerIdempotencyAndDebitCheck(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	purchase := domain.LedgerEntry{ID: "e1", OwnerID: "owner-1", Amount: 2, Kind: domain.EntryKindPurchase, ExternalReference: strPtr("pay-1")}
	if applied, _ := s.AppendIdempotent(ctx, purchase); !applied {
		t.Fatal("first purchase not applied")
	}
	purchase.ID = "e2"
	if applied, _ := s.AppendIdempotent(ctx, purchase); applied {
		t.Fatal("duplicate purchase applied")
	}

	balance, err := s.Debit(ctx, domain.LedgerEntry{ID: "d1", OwnerID: "owner-1", Amount: -2, Kind: domain.EntryKindGenerationDebit, ExternalReference: strPtr("job-1")})
	if err != nil || balance != 0 {
		t.Fatalf("Debit balance=%d err=%v", balance, err)
	}
	_, err = s.Debit(ctx, domain.LedgerEntry{ID: "d2", OwnerID: "owner-1", Amount: -1, Kind: domain.EntryKindGenerationDebit, ExternalReference: strPtr("job-2")})
	var insufficient *domain.InsufficientCreditError
	if !errors.As(err, &insufficient) || insufficient.Available != 0 || insufficient.Required != 1 {
		t.Fatalf("expected insufficient credit, got %v", err)
	}

	entries, _ := s.Entries(ctx, "owner-1", 10)
	if len(entries) != 2 || entries[0].ID != "d1" {
		t.Fatalf("entries = %+v", entries)
	}
}
