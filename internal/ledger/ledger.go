// Package ledger is the authoritative credit accounting service. Balances are
// always derived from the append-only entry log held by a domain.LedgerStore;
// the optional BalanceCache only short-circuits reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/telemetry"
)

const (
	DefaultRefundAttempts = 3
	DefaultRefundBackoff  = 200 * time.Millisecond
	DefaultEntriesLimit   = 50
	MaxEntriesLimit       = 500
)

// BalanceCache caches derived balances. Implementations may be lossy; every
// write path invalidates the owner's entry.
type BalanceCache interface {
	Get(ctx context.Context, ownerID string) (int64, bool, error)
	Set(ctx context.Context, ownerID string, balance int64) error
	Invalidate(ctx context.Context, ownerID string) error
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	RefundAttempts int
	RefundBackoff  time.Duration
	Cache          BalanceCache
}

// Service exposes balance, debit, refund and credit over a LedgerStore.
type Service struct {
	store          domain.LedgerStore
	cache          BalanceCache
	logger         infra.Logger
	refundAttempts int
	refundBackoff  time.Duration
}

func NewService(store domain.LedgerStore, logger infra.Logger, opts Options) *Service {
	if opts.RefundAttempts <= 0 {
		opts.RefundAttempts = DefaultRefundAttempts
	}
	if opts.RefundBackoff < 0 {
		opts.RefundBackoff = 0
	}
	return &Service{
		store:          store,
		cache:          opts.Cache,
		logger:         logger,
		refundAttempts: opts.RefundAttempts,
		refundBackoff:  opts.RefundBackoff,
	}
}

// Balance returns the sum of the owner's entries.
func (s *Service) Balance(ctx context.Context, ownerID string) (int64, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, fmt.Errorf("%w: owner id required", domain.ErrInvalidInput)
	}
	if s.cache != nil {
		if balance, ok, err := s.cache.Get(ctx, ownerID); err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("balance cache read failed")
		} else if ok {
			return balance, nil
		}
	}
	balance, err := s.store.Balance(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("ledger balance: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, ownerID, balance); err != nil {
			s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("balance cache write failed")
		}
	}
	return balance, nil
}

// CanAfford is a read-only eligibility check. It does not reserve anything.
func (s *Service) CanAfford(ctx context.Context, ownerID string, required int64) error {
	balance, err := s.Balance(ctx, ownerID)
	if err != nil {
		return err
	}
	if balance < required {
		return &domain.InsufficientCreditError{Required: required, Available: balance}
	}
	return nil
}

// Debit reserves amount for the operation identified by reference. It fails
// with *domain.InsufficientCreditError when the balance cannot cover it.
func (s *Service) Debit(ctx context.Context, ownerID string, amount int64, reference string) (int64, error) {
	if err := validateMovement(ownerID, amount, reference); err != nil {
		return 0, err
	}
	ref := reference
	balance, err := s.store.Debit(ctx, domain.LedgerEntry{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Amount:            -amount,
		Kind:              domain.EntryKindGenerationDebit,
		ExternalReference: &ref,
	})
	if err != nil {
		return 0, fmt.Errorf("ledger debit: %w", err)
	}
	s.invalidate(ctx, ownerID)
	telemetry.LedgerDebits.Inc()
	s.logger.Info().Str("owner_id", ownerID).Str("reference", reference).Int64("amount", amount).Int64("balance", balance).Msg("ledger debit recorded")
	return balance, nil
}

// Refund returns amount to the owner, at most once per reference. It reports
// whether this call wrote the entry. The write is retried; when every attempt
// fails the error wraps domain.ErrRefundWriteFailed.
func (s *Service) Refund(ctx context.Context, ownerID string, amount int64, reference string) (bool, error) {
	if err := validateMovement(ownerID, amount, reference); err != nil {
		return false, err
	}
	ref := reference
	entry := domain.LedgerEntry{
		OwnerID:           ownerID,
		Amount:            amount,
		Kind:              domain.EntryKindRefund,
		ExternalReference: &ref,
	}

	var lastErr error
	for attempt := 1; attempt <= s.refundAttempts; attempt++ {
		entry.ID = uuid.NewString()
		applied, err := s.store.AppendIdempotent(ctx, entry)
		if err == nil {
			s.invalidate(ctx, ownerID)
			if applied {
				telemetry.Refunds.WithLabelValues("applied").Inc()
				s.logger.Info().Str("owner_id", ownerID).Str("reference", reference).Int64("amount", amount).Msg("refund recorded")
			} else {
				telemetry.Refunds.WithLabelValues("duplicate").Inc()
				s.logger.Info().Str("owner_id", ownerID).Str("reference", reference).Msg("refund already recorded")
			}
			return applied, nil
		}
		lastErr = err
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Str("reference", reference).Int("attempt", attempt).Msg("refund write failed")
		if attempt == s.refundAttempts {
			break
		}
		if err := sleepContext(ctx, time.Duration(attempt)*s.refundBackoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
	}

	telemetry.Refunds.WithLabelValues("failed").Inc()
	telemetry.RefundWriteFailure.Inc()
	s.logger.Error().Err(lastErr).
		Str("alert", "refund_write_failed").
		Str("owner_id", ownerID).
		Str("reference", reference).
		Int64("amount", amount).
		Msg("refund could not be recorded")
	return false, fmt.Errorf("%w: %v", domain.ErrRefundWriteFailed, lastErr)
}

// Credit records a purchase, at most once per payment reference.
func (s *Service) Credit(ctx context.Context, ownerID string, amount int64, reference string) (bool, error) {
	if err := validateMovement(ownerID, amount, reference); err != nil {
		return false, err
	}
	ref := reference
	applied, err := s.store.AppendIdempotent(ctx, domain.LedgerEntry{
		ID:                uuid.NewString(),
		OwnerID:           ownerID,
		Amount:            amount,
		Kind:              domain.EntryKindPurchase,
		ExternalReference: &ref,
	})
	if err != nil {
		telemetry.LedgerCredits.WithLabelValues("error").Inc()
		return false, fmt.Errorf("ledger credit: %w", err)
	}
	s.invalidate(ctx, ownerID)
	if applied {
		telemetry.LedgerCredits.WithLabelValues("applied").Inc()
		s.logger.Info().Str("owner_id", ownerID).Str("reference", reference).Int64("amount", amount).Msg("purchase credited")
	} else {
		telemetry.LedgerCredits.WithLabelValues("duplicate").Inc()
	}
	return applied, nil
}

// Entries returns the owner's most recent entries, newest first.
func (s *Service) Entries(ctx context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id required", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxEntriesLimit {
		limit = MaxEntriesLimit
	}
	entries, err := s.store.Entries(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger entries: %w", err)
	}
	return entries, nil
}

func (s *Service) invalidate(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.logger.Warn().Err(err).Str("owner_id", ownerID).Msg("balance cache invalidation failed")
	}
}

func validateMovement(ownerID string, amount int64, reference string) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: owner id required", domain.ErrInvalidInput)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: reference required", domain.ErrInvalidInput)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
