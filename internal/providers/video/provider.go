package video

import (
	"context"
	"errors"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("video: api key is required")

// SubmitRequest is what the provider needs to start rendering one job.
type SubmitRequest struct {
	JobID           string
	Prompt          string
	ImageURLs       []string
	Format          string
	DurationSeconds int
	CallbackURL     string
}

// Submitter starts an asynchronous generation and returns the provider task id.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// StatusQuerier fetches the provider's current view of a task. The raw body
// has the same shape as a webhook notification.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, taskID string) ([]byte, error)
}
