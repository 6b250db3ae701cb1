package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/providers/video"
	"reelgen/internal/telemetry"
	"reelgen/internal/webhook"
)

const (
	DefaultStuckAfter     = 2 * time.Hour
	DefaultSweepBatchSize = 100
)

type SweeperDeps struct {
	Jobs       domain.JobRepository
	Reconciler *Reconciler
	// Querier is optional. Without it stuck jobs are expired directly.
	Querier    video.StatusQuerier
	StuckAfter time.Duration
	BatchSize  int
	Logger     infra.Logger
	Now        func() time.Time
}

// Sweeper closes jobs the provider never called back about, retries refunds
// that could not be written earlier and copies completed artifacts into our
// storage off the webhook path.
type Sweeper struct {
	jobs       domain.JobRepository
	reconciler *Reconciler
	querier    video.StatusQuerier
	stuckAfter time.Duration
	batchSize  int
	logger     infra.Logger
	now        func() time.Time
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Reconciled     int
	Expired        int
	RefundsSettled int
	Archived       int
	Errors         int
}

func NewSweeper(d SweeperDeps) *Sweeper {
	if d.StuckAfter <= 0 {
		d.StuckAfter = DefaultStuckAfter
	}
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultSweepBatchSize
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Sweeper{
		jobs:       d.Jobs,
		reconciler: d.Reconciler,
		querier:    d.Querier,
		stuckAfter: d.StuckAfter,
		batchSize:  d.BatchSize,
		logger:     d.Logger,
		now:        d.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.Sweep(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("sweeper: pass failed")
		} else if report != (SweepReport{}) {
			s.logger.Info().
				Int("reconciled", report.Reconciled).
				Int("expired", report.Expired).
				Int("refunds_settled", report.RefundsSettled).
				Int("archived", report.Archived).
				Int("errors", report.Errors).
				Msg("sweeper: pass done")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep performs one pass. Per-job failures are counted and logged; only
// listing failures abort the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	cutoff := s.now().Add(-s.stuckAfter)
	stuck, err := s.jobs.ListStuck(ctx, cutoff, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("list stuck jobs: %w", err)
	}
	for i := range stuck {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		job := &stuck[i]
		if s.resolveFromProvider(ctx, job) {
			report.Reconciled++
			telemetry.SweptJobs.WithLabelValues("reconciled").Inc()
			continue
		}
		reason := fmt.Sprintf("no terminal status after %s", s.stuckAfter)
		if _, err := s.reconciler.Expire(ctx, job, reason); err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: expire failed")
			continue
		}
		report.Expired++
		telemetry.SweptJobs.WithLabelValues("expired").Inc()
	}

	pending, err := s.jobs.ListRefundPending(ctx, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("list refund pending jobs: %w", err)
	}
	for i := range pending {
		job := &pending[i]
		if err := s.reconciler.RetryRefund(ctx, job); err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: refund retry failed")
			continue
		}
		report.RefundsSettled++
		telemetry.SweptJobs.WithLabelValues("refund_settled").Inc()
	}

	unarchived, err := s.jobs.ListArchivePending(ctx, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("list archive pending jobs: %w", err)
	}
	for i := range unarchived {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		job := &unarchived[i]
		archived, err := s.reconciler.Archive(ctx, job)
		if err != nil {
			report.Errors++
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("sweeper: archive failed")
			continue
		}
		if archived {
			report.Archived++
			telemetry.SweptJobs.WithLabelValues("archived").Inc()
		}
	}
	return report, nil
}

// resolveFromProvider asks the provider for a terminal status and applies it.
// It reports false when the job should be expired instead.
func (s *Sweeper) resolveFromProvider(ctx context.Context, job *domain.Job) bool {
	if s.querier == nil || job.ExternalTaskID == nil {
		return false
	}
	taskID := *job.ExternalTaskID
	body, err := s.querier.QueryStatus(ctx, taskID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Str("task_id", taskID).Msg("sweeper: status query failed")
		return false
	}
	n, err := webhook.Normalize(body)
	if err != nil || n.Kind == webhook.KindProgress {
		return false
	}
	n.TaskID = taskID
	outcome, err := s.reconciler.Handle(ctx, n)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("outcome", string(outcome)).Msg("sweeper: reconcile from status failed")
		// The job left SUBMITTED; only the refund is outstanding.
		return outcome == OutcomeFailed
	}
	return true
}
