package handlers

import (
	"errors"
	"io"
	"net/http"

	"reelgen/internal/domain"
	"reelgen/internal/generation"
	"reelgen/internal/telemetry"
	"reelgen/internal/webhook"
)

const maxWebhookBody = 1 << 20

// ProviderWebhook ingests provider status notifications. It answers 200 for
// processed and no-op deliveries, 4xx only for payloads that can never be
// processed, and 500 when a retry could succeed.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := webhook.VerifySignature(a.ProviderWebhookSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		telemetry.WebhookOutcomes.WithLabelValues("unauthorized").Inc()
		a.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("webhook: provider signature rejected")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	n, err := webhook.Normalize(body)
	if err != nil {
		telemetry.WebhookOutcomes.WithLabelValues(string(generation.OutcomeMalformed)).Inc()
		a.Logger.Warn().Err(err).Msg("webhook: malformed provider notification dropped")
		a.error(w, http.StatusBadRequest, "malformed_notification", err.Error())
		return
	}

	outcome, err := a.Reconciler.Handle(r.Context(), n)
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	case errors.Is(err, domain.ErrUnknownJob):
		a.json(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	case errors.Is(err, domain.ErrMalformedNotification):
		a.error(w, http.StatusBadRequest, "malformed_notification", err.Error())
	default:
		a.Logger.Error().Err(err).Str("task_id", n.TaskID).Str("outcome", string(outcome)).Msg("webhook: provider notification not fully applied")
		a.error(w, http.StatusInternalServerError, "retry", "notification not fully applied")
	}
}

// PaymentWebhook credits a purchase reported by a payment provider.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if err := webhook.VerifySignature(a.PaymentWebhookSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
		a.Logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("webhook: payment signature rejected")
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}
	evt, err := a.Payments.Decode(body)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	applied, err := a.Payments.Apply(r.Context(), evt)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"applied": applied, "payment_id": evt.PaymentID})
}
