package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"reelgen/internal/generation"
	"reelgen/internal/infra"
	"reelgen/internal/ledger"
	"reelgen/internal/middleware"
	"reelgen/internal/payments"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App carries the services the HTTP handlers call into.
type App struct {
	Ledger       *ledger.Service
	Orchestrator *generation.Orchestrator
	Batches      *generation.BatchCoordinator
	Reconciler   *generation.Reconciler
	Payments     *payments.Ingestor
	Validator    *AppValidator
	Logger       infra.Logger
	// DB is optional; Health pings it when set.
	DB Pinger

	ProviderWebhookSecret string
	PaymentWebhookSecret  string
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	JobID     string `json:"job_id,omitempty"`
	Required  int64  `json:"required,omitempty"`
	Available *int64 `json:"available,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorResponse{Error: errCode, Message: msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

const maxJSONBody = 1 << 20
