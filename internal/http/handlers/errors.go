package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"reelgen/internal/breaker"
	"reelgen/internal/domain"
)

// writeServiceError maps service errors onto HTTP responses. jobID is echoed
// when a job row exists for the failed request.
func (a *App) writeServiceError(w http.ResponseWriter, err error, jobID string) {
	code, resp := describeError(err)
	resp.JobID = jobID

	var openErr *breaker.OpenError
	if code == http.StatusServiceUnavailable && errors.As(err, &openErr) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(openErr)))
	}
	if code >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("job_id", jobID).Int("status", code).Msg("http: request failed")
	}
	a.json(w, code, resp)
}

// itemError describes a per-item batch failure.
func itemError(err error) errorResponse {
	_, resp := describeError(err)
	return resp
}

func describeError(err error) (int, errorResponse) {
	resp := errorResponse{Message: err.Error()}

	var insufficient *domain.InsufficientCreditError
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &insufficient):
		resp.Error = "insufficient_credit"
		resp.Required = insufficient.Required
		available := insufficient.Available
		resp.Available = &available
		return http.StatusPaymentRequired, resp
	case errors.Is(err, domain.ErrRefundWriteFailed):
		resp.Error = "refund_pending"
		resp.Message = "generation failed and the refund is delayed; it will be retried automatically"
		return http.StatusInternalServerError, resp
	case errors.Is(err, domain.ErrCircuitOpen):
		resp.Error = "provider_unavailable"
		resp.Message = "video provider is recovering, try again shortly"
		return http.StatusServiceUnavailable, resp
	case errors.Is(err, domain.ErrSubmissionFailed):
		resp.Error = "submission_failed"
		resp.Message = "video provider rejected the request; credits were returned"
		return http.StatusBadGateway, resp
	case errors.As(err, &validationErr):
		resp.Error = "validation_failed"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, domain.ErrInvalidInput):
		resp.Error = "invalid_input"
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, domain.ErrNotFound):
		resp.Error = "not_found"
		return http.StatusNotFound, resp
	case errors.Is(err, domain.ErrUnauthorized):
		resp.Error = "unauthorized"
		return http.StatusUnauthorized, resp
	default:
		resp.Error = "internal"
		resp.Message = "internal error"
		return http.StatusInternalServerError, resp
	}
}

func retryAfterSeconds(e *breaker.OpenError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
