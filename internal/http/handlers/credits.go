package handlers

import (
	"net/http"
	"strconv"
	"time"

	"reelgen/internal/domain"
)

type ledgerEntryDTO struct {
	ID        string           `json:"id"`
	Amount    int64            `json:"amount"`
	Kind      domain.EntryKind `json:"kind"`
	Reference *string          `json:"reference,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func (a *App) CreditsBalance(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"owner_id": userID, "balance": balance})
}

func (a *App) CreditsEntries(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := a.Ledger.Entries(r.Context(), userID, limit)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	items := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		items = append(items, ledgerEntryDTO{
			ID:        e.ID,
			Amount:    e.Amount,
			Kind:      e.Kind,
			Reference: e.ExternalReference,
			CreatedAt: e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
