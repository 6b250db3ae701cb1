package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reelgen/internal/generation"
	"reelgen/internal/middleware"
)

type videoBatchRequest struct {
	Items []videoGenerateRequest `json:"items" validate:"required,min=1,dive"`
}

type batchItemDTO struct {
	Index       int            `json:"index"`
	CostCredits int64          `json:"cost_credits"`
	Job         *jobDTO        `json:"job,omitempty"`
	Error       *errorResponse `json:"error,omitempty"`
}

type batchResponse struct {
	BatchID   string         `json:"batch_id"`
	TotalCost int64          `json:"total_cost"`
	Accepted  int            `json:"accepted"`
	Items     []batchItemDTO `json:"items"`
}

func (a *App) VideosBatch(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoBatchRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validator.Validate(req); err != nil {
		a.writeServiceError(w, err, "")
		return
	}

	locale := middleware.LocaleFromContext(r.Context())
	items := make([]generation.BatchItem, len(req.Items))
	for i, item := range req.Items {
		sr := item.submitRequest(userID, locale)
		items[i] = generation.BatchItem{
			Format:          sr.Format,
			DurationSeconds: sr.DurationSeconds,
			Title:           sr.Title,
			Script:          sr.Script,
			Locale:          sr.Locale,
			ImageURLs:       sr.ImageURLs,
		}
	}

	res, err := a.Batches.Submit(r.Context(), userID, items)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}

	out := batchResponse{
		BatchID:   res.BatchID,
		TotalCost: res.TotalCost,
		Accepted:  res.Accepted(),
		Items:     make([]batchItemDTO, len(res.Items)),
	}
	for i, item := range res.Items {
		dto := batchItemDTO{Index: item.Index, CostCredits: item.CostCredits}
		if item.Job != nil {
			j := newJobDTO(item.Job)
			dto.Job = &j
		}
		if item.Err != nil {
			e := itemError(item.Err)
			dto.Error = &e
		}
		out.Items[i] = dto
	}
	a.json(w, http.StatusAccepted, out)
}

func (a *App) BatchStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	if _, err := uuid.Parse(batchID); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}
	status, err := a.Batches.Status(r.Context(), userID, batchID)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	a.json(w, http.StatusOK, status)
}
