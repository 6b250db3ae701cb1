// Package generation drives a video job from debit to a terminal state.
//
// The Orchestrator is the only writer of new jobs and the Reconciler is the
// only component that moves a job out of SUBMITTED once the provider has
// accepted it. Both use conditional transitions so the first terminal write
// wins and every later attempt is a no-op.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reelgen/internal/breaker"
	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/pricing"
	"reelgen/internal/prompt"
	"reelgen/internal/providers/video"
	"reelgen/internal/telemetry"
)

// SubmissionFailedReason is stored on jobs the provider never accepted.
const SubmissionFailedReason = "submission failed"

const (
	// DefaultProviderTimeout bounds one provider submit call.
	DefaultProviderTimeout = 60 * time.Second
	// DefaultSettleTimeout bounds the writes that follow a committed debit.
	DefaultSettleTimeout = 30 * time.Second
)

// detached returns a context that survives the caller's cancellation but not d.
// Writes that settle money use it once the debit is committed.
func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

// Ledger is the slice of the credit ledger the generation flow needs.
type Ledger interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	Debit(ctx context.Context, ownerID string, amount int64, reference string) (int64, error)
	Refund(ctx context.Context, ownerID string, amount int64, reference string) (bool, error)
}

// SubmitRequest describes one video to generate.
type SubmitRequest struct {
	OwnerID         string
	Format          string
	DurationSeconds int
	Title           string
	// Script is produced upstream by the text-generation capability.
	Script    string
	Locale    string
	ImageURLs []string
	BatchID   string
}

type OrchestratorDeps struct {
	Jobs     domain.JobRepository
	Ledger   Ledger
	Pricer   pricing.Pricer
	Breaker  *breaker.Breaker
	Provider video.Submitter
	Logger   infra.Logger
	// CallbackURL is passed to the provider for webhook delivery.
	CallbackURL     string
	NewID           func() string
	ProviderTimeout time.Duration
	SettleTimeout   time.Duration
}

type Orchestrator struct {
	jobs            domain.JobRepository
	ledger          Ledger
	pricer          pricing.Pricer
	breaker         *breaker.Breaker
	provider        video.Submitter
	logger          infra.Logger
	callbackURL     string
	newID           func() string
	providerTimeout time.Duration
	settleTimeout   time.Duration
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	if d.Pricer == nil {
		d.Pricer = pricing.DefaultTable()
	}
	if d.Breaker == nil {
		d.Breaker = breaker.New("video-provider", breaker.Settings{})
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.ProviderTimeout <= 0 {
		d.ProviderTimeout = DefaultProviderTimeout
	}
	if d.SettleTimeout <= 0 {
		d.SettleTimeout = DefaultSettleTimeout
	}
	return &Orchestrator{
		jobs:            d.Jobs,
		ledger:          d.Ledger,
		pricer:          d.Pricer,
		breaker:         d.Breaker,
		provider:        d.Provider,
		logger:          d.Logger,
		callbackURL:     d.CallbackURL,
		newID:           d.NewID,
		providerTimeout: d.ProviderTimeout,
		settleTimeout:   d.SettleTimeout,
	}
}

// Pricer exposes the pricing table used for submissions.
func (o *Orchestrator) Pricer() pricing.Pricer {
	return o.pricer
}

// Breaker exposes the shared provider breaker.
func (o *Orchestrator) Breaker() *breaker.Breaker {
	return o.breaker
}

// Submit debits the owner, records the job and hands it to the provider.
//
// Errors: *domain.InsufficientCreditError when the debit is refused (no job is
// created), an error matching both domain.ErrSubmissionFailed and, when the
// breaker rejected the call, domain.ErrCircuitOpen. A refund that could not
// be written wraps domain.ErrRefundWriteFailed. On submission errors the
// returned job reflects the FAILED row.
//
// Once the debit is committed the rest of the flow no longer follows ctx
// cancellation, so a client that disconnects mid-submit still gets either an
// accepted job or a refund.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	cost, err := o.pricer.Cost(req.Format, req.DurationSeconds)
	if err != nil {
		return nil, err
	}

	jobID := o.newID()
	if _, err := o.ledger.Debit(ctx, req.OwnerID, cost, jobID); err != nil {
		telemetry.Submissions.WithLabelValues("debit_refused").Inc()
		return nil, err
	}

	job := &domain.Job{
		ID:              jobID,
		OwnerID:         req.OwnerID,
		State:           domain.JobStateSubmitted,
		Format:          req.Format,
		DurationSeconds: req.DurationSeconds,
		Prompt: prompt.Compose(prompt.Input{
			Title:           req.Title,
			Script:          req.Script,
			Format:          req.Format,
			DurationSeconds: req.DurationSeconds,
			Locale:          req.Locale,
		}),
		ImageURLs:   append([]string(nil), req.ImageURLs...),
		CostCredits: cost,
	}
	if req.BatchID != "" {
		batchID := req.BatchID
		job.BatchID = &batchID
	}

	createCtx, cancel := detached(ctx, o.settleTimeout)
	err = o.jobs.Create(createCtx, job)
	cancel()
	if err != nil {
		telemetry.Submissions.WithLabelValues("store_error").Inc()
		o.logger.Error().Err(err).Str("job_id", jobID).Str("owner_id", req.OwnerID).Msg("generation: job create failed after debit")
		refundCtx, cancel := detached(ctx, o.settleTimeout)
		defer cancel()
		if _, refundErr := o.ledger.Refund(refundCtx, req.OwnerID, cost, jobID); refundErr != nil {
			return nil, errors.Join(fmt.Errorf("create job: %w", err), refundErr)
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	var taskID string
	callErr := o.breaker.Execute(context.WithoutCancel(ctx), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, o.providerTimeout)
		defer cancel()
		var err error
		taskID, err = o.provider.Submit(ctx, video.SubmitRequest{
			JobID:           job.ID,
			Prompt:          job.Prompt,
			ImageURLs:       job.ImageURLs,
			Format:          job.Format,
			DurationSeconds: job.DurationSeconds,
			CallbackURL:     o.callbackURL,
		})
		if err == nil && strings.TrimSpace(taskID) == "" {
			err = errors.New("provider returned empty task id")
		}
		return err
	})

	settleCtx, cancel := detached(ctx, o.settleTimeout)
	defer cancel()
	if callErr != nil {
		return o.abandon(settleCtx, job, callErr)
	}

	if err := o.jobs.SetExternalTaskID(settleCtx, job.ID, taskID); err != nil {
		telemetry.Submissions.WithLabelValues("store_error").Inc()
		o.logger.Error().Err(err).Str("job_id", job.ID).Str("task_id", taskID).Msg("generation: task id not recorded; sweeper will reconcile")
		return job, fmt.Errorf("record task id: %w", err)
	}
	job.ExternalTaskID = &taskID
	telemetry.Submissions.WithLabelValues("accepted").Inc()
	o.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("task_id", taskID).
		Int64("cost", cost).
		Msg("generation: job submitted")
	return job, nil
}

// abandon closes a job the provider never accepted: FAILED with the refund
// flagged, refund, then clear the flag. ctx must already be detached from the
// caller.
func (o *Orchestrator) abandon(ctx context.Context, job *domain.Job, callErr error) (*domain.Job, error) {
	result := "provider_error"
	if errors.Is(callErr, domain.ErrCircuitOpen) {
		result = "circuit_open"
	}
	telemetry.Submissions.WithLabelValues(result).Inc()
	o.logger.Warn().Err(callErr).Str("job_id", job.ID).Str("owner_id", job.OwnerID).Msg("generation: provider submission failed")

	submitErr := fmt.Errorf("%w: %w", domain.ErrSubmissionFailed, callErr)

	applied, err := o.jobs.MarkFailed(ctx, job.ID, domain.Failure{Reason: SubmissionFailedReason})
	if err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("generation: mark failed after submission error")
	}
	if err == nil && !applied {
		// Another path closed the job first and owns its refund.
		return o.reload(ctx, job), submitErr
	}

	if _, refundErr := o.ledger.Refund(ctx, job.OwnerID, job.CostCredits, job.ID); refundErr != nil {
		return o.reload(ctx, job), errors.Join(submitErr, refundErr)
	}
	if err != nil {
		return o.reload(ctx, job), errors.Join(submitErr, fmt.Errorf("mark failed: %w", err))
	}
	if err := o.jobs.ClearRefundPending(ctx, job.ID); err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("generation: clear refund flag failed")
	}
	return o.reload(ctx, job), submitErr
}

func (o *Orchestrator) reload(ctx context.Context, job *domain.Job) *domain.Job {
	fresh, err := o.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return job
	}
	return fresh
}

// Job returns a job owned by ownerID.
func (o *Orchestrator) Job(ctx context.Context, ownerID, jobID string) (*domain.Job, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: owner id required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Script) == "" {
		return fmt.Errorf("%w: title or script required", domain.ErrInvalidInput)
	}
	for _, u := range req.ImageURLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("%w: empty image url", domain.ErrInvalidInput)
		}
	}
	return nil
}
