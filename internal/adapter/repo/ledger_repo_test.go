package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"reelgen/internal/domain"
	"reelgen/internal/sqlinline"
)

func debitEntry(amount int64, ref string) domain.LedgerEntry {
	return domain.LedgerEntry{ID: "entry-1", OwnerID: "owner-1", Amount: -amount, Kind: domain.EntryKindGenerationDebit, ExternalReference: &ref}
}

func TestLedgerDebitLocksChecksAndInserts(t *testing.T) {
	sql := newStubExecutor()
	sql.rows[sqlinline.QLedgerReferenceExists] = scanInto(false)
	sql.rows[sqlinline.QLedgerBalance] = scanInto(int64(10))
	sql.tags[sqlinline.QLedgerInsert] = pgconn.NewCommandTag("INSERT 0 1")
	repo := NewLedgerRepository(sql)

	balance, err := repo.Debit(context.Background(), debitEntry(1, "job-1"))
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if balance != 9 {
		t.Fatalf("balance = %d, want 9", balance)
	}
	if sql.txCount != 1 {
		t.Fatalf("expected one transaction, got %d", sql.txCount)
	}
	if len(sql.execLog) != 2 || sql.execLog[0] != sqlinline.QLedgerLockOwner || sql.execLog[1] != sqlinline.QLedgerInsert {
		t.Fatalf("unexpected exec order: %d statements", len(sql.execLog))
	}
	if got := sql.args[sqlinline.QLedgerLockOwner][0]; got != "owner-1" {
		t.Fatalf("lock key = %v", got)
	}
}

func TestLedgerDebitInsufficient(t *testing.T) {
	sql := newStubExecutor()
	sql.rows[sqlinline.QLedgerReferenceExists] = scanInto(false)
	sql.rows[sqlinline.QLedgerBalance] = scanInto(int64(2))
	repo := NewLedgerRepository(sql)

	_, err := repo.Debit(context.Background(), debitEntry(3, "job-1"))
	var insufficient *domain.InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditError, got %v", err)
	}
	if insufficient.Required != 3 || insufficient.Available != 2 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}
	for _, q := range sql.execLog {
		if q == sqlinline.QLedgerInsert {
			t.Fatal("insufficient debit must not insert")
		}
	}
}

func TestLedgerDebitDuplicateReference(t *testing.T) {
	sql := newStubExecutor()
	sql.rows[sqlinline.QLedgerReferenceExists] = scanInto(true)
	repo := NewLedgerRepository(sql)

	if _, err := repo.Debit(context.Background(), debitEntry(1, "job-1")); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("expected ErrDuplicateOperation, got %v", err)
	}
}

func TestLedgerAppendIdempotent(t *testing.T) {
	sql := newStubExecutor()
	repo := NewLedgerRepository(sql)
	ref := "job-1"
	entry := domain.LedgerEntry{ID: "entry-2", OwnerID: "owner-1", Amount: 1, Kind: domain.EntryKindRefund, ExternalReference: &ref}

	sql.tags[sqlinline.QLedgerInsertIdempotent] = pgconn.NewCommandTag("INSERT 0 1")
	if applied, err := repo.AppendIdempotent(context.Background(), entry); err != nil || !applied {
		t.Fatalf("first append applied=%v err=%v", applied, err)
	}
	sql.tags[sqlinline.QLedgerInsertIdempotent] = pgconn.NewCommandTag("INSERT 0 0")
	if applied, err := repo.AppendIdempotent(context.Background(), entry); err != nil || applied {
		t.Fatalf("duplicate append applied=%v err=%v", applied, err)
	}
}
