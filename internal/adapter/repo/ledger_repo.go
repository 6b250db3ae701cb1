package repo

import (
	"context"
	"fmt"

	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/sqlinline"
)

// LedgerRepositoryPG implements domain.LedgerStore on the ledger_entries table.
type LedgerRepositoryPG struct {
	sql infra.TxExecutor
}

func NewLedgerRepository(sql infra.TxExecutor) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{sql: sql}
}

func (r *LedgerRepositoryPG) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	if err := r.sql.QueryRow(ctx, sqlinline.QLedgerBalance, ownerID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return balance, nil
}

// Debit serializes on a per-owner advisory lock so the balance check and the
// insert see no concurrent debit for the same owner.
func (r *LedgerRepositoryPG) Debit(ctx context.Context, entry domain.LedgerEntry) (int64, error) {
	var after int64
	err := r.sql.WithTx(ctx, func(tx infra.SQLExecutor) error {
		if _, err := tx.Exec(ctx, sqlinline.QLedgerLockOwner, entry.OwnerID); err != nil {
			return fmt.Errorf("lock owner: %w", err)
		}
		if entry.ExternalReference != nil {
			var exists bool
			if err := tx.QueryRow(ctx, sqlinline.QLedgerReferenceExists, entry.Kind, *entry.ExternalReference).Scan(&exists); err != nil {
				return fmt.Errorf("check reference: %w", err)
			}
			if exists {
				return domain.ErrDuplicateOperation
			}
		}
		var balance int64
		if err := tx.QueryRow(ctx, sqlinline.QLedgerBalance, entry.OwnerID).Scan(&balance); err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		if balance+entry.Amount < 0 {
			return &domain.InsufficientCreditError{Required: -entry.Amount, Available: balance}
		}
		if _, err := tx.Exec(ctx, sqlinline.QLedgerInsert, entry.ID, entry.OwnerID, entry.Amount, entry.Kind, entry.ExternalReference); err != nil {
			if infra.IsUniqueViolation(err) {
				return domain.ErrDuplicateOperation
			}
			return fmt.Errorf("insert debit: %w", err)
		}
		after = balance + entry.Amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return after, nil
}

// AppendIdempotent relies on the (kind, external_reference) unique index.
func (r *LedgerRepositoryPG) AppendIdempotent(ctx context.Context, entry domain.LedgerEntry) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QLedgerInsertIdempotent, entry.ID, entry.OwnerID, entry.Amount, entry.Kind, entry.ExternalReference)
	if err != nil {
		return false, fmt.Errorf("append ledger entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *LedgerRepositoryPG) Entries(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QLedgerEntries, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e    domain.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Amount, &kind, &e.ExternalReference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ domain.LedgerStore = (*LedgerRepositoryPG)(nil)
