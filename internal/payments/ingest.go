// Package payments turns "funds received" events from payment providers into
// ledger purchases. The same path serves the HTTP webhook and the bus
// subscriber.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"reelgen/internal/bus"
	"reelgen/internal/domain"
	"reelgen/internal/infra"
)

// Crediter records a purchase at most once per payment reference.
type Crediter interface {
	Credit(ctx context.Context, ownerID string, amount int64, reference string) (bool, error)
}

type Ingestor struct {
	ledger   Crediter
	validate *validator.Validate
	logger   infra.Logger
}

func NewIngestor(ledger Crediter, logger infra.Logger) *Ingestor {
	return &Ingestor{
		ledger:   ledger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Decode parses and validates a purchase event.
func (i *Ingestor) Decode(body []byte) (bus.CreditPurchased, error) {
	var evt bus.CreditPurchased
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&evt); err != nil {
		return evt, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if err := i.validate.Struct(evt); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return evt, &domain.ValidationError{
				Field:   verrs[0].Field(),
				Message: fmt.Sprintf("failed on '%s' validation", verrs[0].Tag()),
			}
		}
		return evt, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return evt, nil
}

// Apply credits the owner. It reports false for a payment already recorded.
func (i *Ingestor) Apply(ctx context.Context, evt bus.CreditPurchased) (bool, error) {
	applied, err := i.ledger.Credit(ctx, evt.OwnerID, evt.Credits, evt.PaymentID)
	if err != nil {
		return false, err
	}
	if !applied {
		i.logger.Info().Str("owner_id", evt.OwnerID).Str("reference", evt.PaymentID).Msg("payments: duplicate purchase ignored")
	}
	return applied, nil
}

// Handle decodes and applies a raw event.
func (i *Ingestor) Handle(ctx context.Context, body []byte) (bool, error) {
	evt, err := i.Decode(body)
	if err != nil {
		return false, err
	}
	return i.Apply(ctx, evt)
}

// Consume is the bus handler. Malformed events are rejected for good; any
// other error leaves the message for redelivery, which is safe because
// credits are idempotent per payment reference.
func (i *Ingestor) Consume(ctx context.Context, body []byte) error {
	applied, err := i.Handle(ctx, body)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		i.logger.Warn().Err(err).Msg("payments: event rejected")
		return bus.Reject(err)
	case err != nil:
		i.logger.Error().Err(err).Msg("payments: event not applied, awaiting redelivery")
		return err
	case applied:
		i.logger.Info().Msg("payments: event applied")
	}
	return nil
}
