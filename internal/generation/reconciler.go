package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reelgen/internal/bus"
	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/quality"
	"reelgen/internal/telemetry"
	"reelgen/internal/webhook"
)

// Outcome summarizes what a notification did to its job.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomeFailed     Outcome = "failed"
	OutcomeProgress   Outcome = "progress"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUnknownJob Outcome = "unknown_job"
	OutcomeMalformed  Outcome = "malformed"
)

// Archiver copies a provider artifact into our storage. Errors mean "keep the
// provider URL".
type Archiver interface {
	Store(ctx context.Context, jobID, providerURL string) (string, error)
}

type ReconcilerDeps struct {
	Jobs     domain.JobRepository
	Ledger   Ledger
	Policy   quality.Policy
	Archiver Archiver
	// Events and EventPrefix are optional; lifecycle events are skipped
	// without them.
	Events      bus.Publisher
	EventPrefix string
	Logger      infra.Logger
	Now         func() time.Time
	// SettleTimeout bounds the failure and refund writes, which run detached
	// from the caller's context.
	SettleTimeout time.Duration
}

// Reconciler turns provider notifications into job transitions.
type Reconciler struct {
	jobs        domain.JobRepository
	ledger      Ledger
	policy      quality.Policy
	archiver    Archiver
	events      bus.Publisher
	eventPrefix string
	logger      infra.Logger
	now         func() time.Time
	settle      time.Duration
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	if d.Policy.PassThreshold <= 0 {
		d.Policy.PassThreshold = quality.DefaultPassThreshold
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SettleTimeout <= 0 {
		d.SettleTimeout = DefaultSettleTimeout
	}
	return &Reconciler{
		jobs:        d.Jobs,
		ledger:      d.Ledger,
		policy:      d.Policy,
		archiver:    d.Archiver,
		events:      d.Events,
		eventPrefix: strings.TrimSuffix(d.EventPrefix, "."),
		logger:      d.Logger,
		now:         d.Now,
		settle:      d.SettleTimeout,
	}
}

// Handle applies one notification. Unknown task ids return OutcomeUnknownJob
// with an error wrapping domain.ErrUnknownJob; callers acknowledge those.
// Terminal jobs yield OutcomeDuplicate and are left untouched, except that a
// FAILED job still owing a refund gets the refund retried.
func (r *Reconciler) Handle(ctx context.Context, n webhook.Notification) (Outcome, error) {
	outcome, err := r.handle(ctx, n)
	telemetry.WebhookOutcomes.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (r *Reconciler) handle(ctx context.Context, n webhook.Notification) (Outcome, error) {
	taskID := strings.TrimSpace(n.TaskID)
	if taskID == "" {
		return OutcomeMalformed, fmt.Errorf("%w: missing task id", domain.ErrMalformedNotification)
	}

	job, err := r.jobs.GetByExternalTaskID(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Str("task_id", taskID).Str("status", n.RawStatus).Msg("reconcile: notification for unknown task ignored")
		return OutcomeUnknownJob, fmt.Errorf("%w: task %s", domain.ErrUnknownJob, taskID)
	}
	if err != nil {
		return "", fmt.Errorf("load job by task: %w", err)
	}

	if job.State.Terminal() {
		r.logger.Debug().Str("job_id", job.ID).Str("task_id", taskID).Str("state", string(job.State)).Msg("reconcile: duplicate delivery")
		if job.State == domain.JobStateFailed && job.RefundPending {
			if err := r.settleRefund(ctx, job); err != nil {
				return OutcomeDuplicate, err
			}
		}
		return OutcomeDuplicate, nil
	}
	if job.State != domain.JobStateSubmitted {
		return "", fmt.Errorf("%w: job %s is %s", domain.ErrInvalidStateTransition, job.ID, job.State)
	}

	switch n.Kind {
	case webhook.KindProgress:
		if !n.HasProgress {
			r.logger.Debug().Str("job_id", job.ID).Str("status", n.RawStatus).Msg("reconcile: status update without progress")
			return OutcomeProgress, nil
		}
		if err := r.jobs.UpdateProgress(ctx, job.ID, n.Progress); err != nil {
			return "", fmt.Errorf("update progress: %w", err)
		}
		return OutcomeProgress, nil
	case webhook.KindFailed:
		reason := strings.TrimSpace(n.Reason)
		if reason == "" {
			reason = "provider reported failure"
		}
		return r.fail(ctx, job, domain.Failure{Reason: reason})
	case webhook.KindCompleted:
		return r.complete(ctx, job, n)
	default:
		return OutcomeMalformed, fmt.Errorf("%w: unsupported status %q", domain.ErrMalformedNotification, n.RawStatus)
	}
}

func (r *Reconciler) complete(ctx context.Context, job *domain.Job, n webhook.Notification) (Outcome, error) {
	assessment := quality.Assess(r.policy, quality.Input{
		ArtifactURL:              n.ArtifactURL,
		RequestedDurationSeconds: float64(job.DurationSeconds),
		ActualDurationSeconds:    n.ActualDurationSeconds,
		SafetyFlags:              n.SafetyFlags,
		ProviderError:            n.ProviderError,
	})
	telemetry.QualityScores.Observe(assessment.Score)

	if !assessment.Passed {
		score := assessment.Score
		r.logger.Info().
			Err(assessment.Err()).
			Str("job_id", job.ID).
			Float64("score", score).
			Msg("reconcile: artifact below quality threshold")
		return r.fail(ctx, job, domain.Failure{
			Reason:        assessment.Reason(),
			QualityScore:  &score,
			QualityIssues: assessment.Issues,
		})
	}

	artifact := strings.TrimSpace(n.ArtifactURL)
	applied, err := r.jobs.MarkCompleted(ctx, job.ID, domain.Completion{
		ArtifactURL:    artifact,
		QualityScore:   assessment.Score,
		QualityIssues:  assessment.Issues,
		ArchivePending: r.archiver != nil,
	})
	if err != nil {
		return "", fmt.Errorf("mark completed: %w", err)
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	r.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Float64("score", assessment.Score).Msg("reconcile: job completed")
	r.publish(bus.SubjectJobCompleted, bus.JobCompleted{
		JobID:        job.ID,
		OwnerID:      job.OwnerID,
		BatchID:      deref(job.BatchID),
		ArtifactURL:  artifact,
		QualityScore: assessment.Score,
		CostCredits:  job.CostCredits,
		HappenedAt:   r.now().Unix(),
	})
	return OutcomeCompleted, nil
}

// fail closes a SUBMITTED job as FAILED and refunds it. Only the caller whose
// conditional update applied performs the refund.
func (r *Reconciler) fail(ctx context.Context, job *domain.Job, f domain.Failure) (Outcome, error) {
	ctx, cancel := detached(ctx, r.settle)
	defer cancel()

	applied, err := r.jobs.MarkFailed(ctx, job.ID, f)
	if err != nil {
		return "", fmt.Errorf("mark failed: %w", err)
	}
	if !applied {
		return OutcomeDuplicate, nil
	}
	r.logger.Info().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Str("reason", f.Reason).Msg("reconcile: job failed")

	refundErr := r.settleRefund(ctx, job)
	r.publish(bus.SubjectJobFailed, bus.JobFailed{
		JobID:         job.ID,
		OwnerID:       job.OwnerID,
		BatchID:       deref(job.BatchID),
		Reason:        f.Reason,
		QualityScore:  f.QualityScore,
		Refunded:      refundErr == nil,
		RefundPending: refundErr != nil,
		HappenedAt:    r.now().Unix(),
	})
	return OutcomeFailed, refundErr
}

// Expire force-fails a job that never reached a terminal state.
func (r *Reconciler) Expire(ctx context.Context, job *domain.Job, reason string) (Outcome, error) {
	return r.fail(ctx, job, domain.Failure{Reason: reason})
}

// RetryRefund settles the refund of a FAILED job still flagged refund_pending.
func (r *Reconciler) RetryRefund(ctx context.Context, job *domain.Job) error {
	if job.State != domain.JobStateFailed || !job.RefundPending {
		return nil
	}
	return r.settleRefund(ctx, job)
}

func (r *Reconciler) settleRefund(ctx context.Context, job *domain.Job) error {
	ctx, cancel := detached(ctx, r.settle)
	defer cancel()

	if _, err := r.ledger.Refund(ctx, job.OwnerID, job.CostCredits, job.ID); err != nil {
		return fmt.Errorf("refund job %s: %w", job.ID, err)
	}
	if err := r.jobs.ClearRefundPending(ctx, job.ID); err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: clear refund flag failed")
	}
	return nil
}

// Archive copies the artifact of a COMPLETED job into our storage and clears
// archive_pending. A failed copy keeps the provider URL; the flag is cleared
// either way so one bad artifact is not retried forever.
func (r *Reconciler) Archive(ctx context.Context, job *domain.Job) (bool, error) {
	if job.State != domain.JobStateCompleted || !job.ArchivePending {
		return false, nil
	}
	var ref string
	if r.archiver != nil && job.ArtifactURL != nil {
		stored, err := r.archiver.Store(ctx, job.ID, *job.ArtifactURL)
		if err != nil && ctx.Err() != nil {
			return false, err
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("reconcile: artifact archive failed, keeping provider url")
		} else {
			ref = stored
		}
	}
	if err := r.jobs.FinishArchive(ctx, job.ID, ref); err != nil {
		return false, fmt.Errorf("finish archive for job %s: %w", job.ID, err)
	}
	if ref != "" {
		r.logger.Info().Str("job_id", job.ID).Str("ref", ref).Msg("reconcile: artifact archived")
	}
	return ref != "", nil
}

func (r *Reconciler) publish(suffix string, event any) {
	if r.events == nil || r.eventPrefix == "" {
		return
	}
	subject := r.eventPrefix + "." + suffix
	if err := r.events.PublishJSON(subject, event); err != nil {
		r.logger.Warn().Err(err).Str("subject", subject).Msg("reconcile: publish event failed")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
