package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reelgen/internal/domain"
	"reelgen/internal/generation"
	"reelgen/internal/middleware"
)

type videoGenerateRequest struct {
	Format          string   `json:"format" validate:"required"`
	DurationSeconds int      `json:"duration_seconds" validate:"required,gt=0"`
	Title           string   `json:"title" validate:"required_without=Script,max=200"`
	Script          string   `json:"script" validate:"max=4000"`
	Locale          string   `json:"locale" validate:"omitempty,bcp47_language_tag"`
	ImageURLs       []string `json:"image_urls" validate:"max=4,dive,url"`
}

type jobDTO struct {
	ID              string                `json:"id"`
	State           domain.JobState       `json:"state"`
	BatchID         *string               `json:"batch_id,omitempty"`
	Format          string                `json:"format"`
	DurationSeconds int                   `json:"duration_seconds"`
	CostCredits     int64                 `json:"cost_credits"`
	ExternalTaskID  *string               `json:"external_task_id,omitempty"`
	Progress        int                   `json:"progress"`
	ArtifactURL     *string               `json:"artifact_url,omitempty"`
	QualityScore    *float64              `json:"quality_score,omitempty"`
	QualityIssues   []domain.QualityIssue `json:"quality_issues,omitempty"`
	FailureReason   *string               `json:"failure_reason,omitempty"`
	RefundPending   bool                  `json:"refund_pending"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

func newJobDTO(j *domain.Job) jobDTO {
	return jobDTO{
		ID:              j.ID,
		State:           j.State,
		BatchID:         j.BatchID,
		Format:          j.Format,
		DurationSeconds: j.DurationSeconds,
		CostCredits:     j.CostCredits,
		ExternalTaskID:  j.ExternalTaskID,
		Progress:        j.Progress,
		ArtifactURL:     j.ArtifactURL,
		QualityScore:    j.QualityScore,
		QualityIssues:   j.QualityIssues,
		FailureReason:   j.FailureReason,
		RefundPending:   j.RefundPending,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func (req videoGenerateRequest) submitRequest(ownerID, locale string) generation.SubmitRequest {
	if req.Locale != "" {
		locale = req.Locale
	}
	return generation.SubmitRequest{
		OwnerID:         ownerID,
		Format:          req.Format,
		DurationSeconds: req.DurationSeconds,
		Title:           req.Title,
		Script:          req.Script,
		Locale:          locale,
		ImageURLs:       req.ImageURLs,
	}
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoGenerateRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Validator.Validate(req); err != nil {
		a.writeServiceError(w, err, "")
		return
	}

	job, err := a.Orchestrator.Submit(r.Context(), req.submitRequest(userID, middleware.LocaleFromContext(r.Context())))
	if err != nil {
		jobID := ""
		if job != nil {
			jobID = job.ID
		}
		a.writeServiceError(w, err, jobID)
		return
	}
	a.json(w, http.StatusAccepted, newJobDTO(job))
}

func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	job, err := a.Orchestrator.Job(r.Context(), userID, jobID)
	if err != nil {
		a.writeServiceError(w, err, "")
		return
	}
	a.json(w, http.StatusOK, newJobDTO(job))
}
