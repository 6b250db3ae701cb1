package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	images, err := json.Marshal(nonNilStrings(job.ImageURLs))
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.BatchID,
		job.State,
		job.Format,
		job.DurationSeconds,
		job.Prompt,
		images,
		job.ExternalTaskID,
		job.CostCredits,
		job.Progress,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: job %s", domain.ErrDuplicateOperation, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return r.getOne(ctx, sqlinline.QSelectJobByID, jobID)
}

// GetByExternalTaskID fetches the job bound to a provider task id.
func (r *JobRepositoryPG) GetByExternalTaskID(ctx context.Context, taskID string) (*domain.Job, error) {
	return r.getOne(ctx, sqlinline.QSelectJobByTaskID, taskID)
}

func (r *JobRepositoryPG) getOne(ctx context.Context, query, arg string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, query, arg))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// SetExternalTaskID binds the provider task id to a SUBMITTED job that has none yet.
func (r *JobRepositoryPG) SetExternalTaskID(ctx context.Context, jobID, taskID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetJobExternalTaskID, jobID, taskID)
	if err != nil {
		if infra.IsUniqueViolation(err) {
			return fmt.Errorf("%w: task %s already bound", domain.ErrDuplicateOperation, taskID)
		}
		return fmt.Errorf("set external task id: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.requireExists(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidStateTransition
}

// MarkCompleted applies SUBMITTED -> COMPLETED. It reports false when the job
// had already left SUBMITTED.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, jobID string, c domain.Completion) (bool, error) {
	issues, err := json.Marshal(nonNilIssues(c.QualityIssues))
	if err != nil {
		return false, fmt.Errorf("marshal quality issues: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobCompleted, jobID, c.ArtifactURL, c.QualityScore, issues, c.ArchivePending)
	if err != nil {
		return false, fmt.Errorf("mark job completed: %w", err)
	}
	return r.transitionResult(ctx, jobID, tag.RowsAffected())
}

// MarkFailed applies SUBMITTED -> FAILED and flags the refund as pending.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID string, f domain.Failure) (bool, error) {
	issues, err := json.Marshal(nonNilIssues(f.QualityIssues))
	if err != nil {
		return false, fmt.Errorf("marshal quality issues: %w", err)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobFailed, jobID, f.Reason, f.QualityScore, issues)
	if err != nil {
		return false, fmt.Errorf("mark job failed: %w", err)
	}
	return r.transitionResult(ctx, jobID, tag.RowsAffected())
}

func (r *JobRepositoryPG) transitionResult(ctx context.Context, jobID string, affected int64) (bool, error) {
	if affected == 1 {
		return true, nil
	}
	if err := r.requireExists(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *JobRepositoryPG) requireExists(ctx context.Context, jobID string) error {
	var exists bool
	if err := r.sql.QueryRow(ctx, sqlinline.QJobExists, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepositoryPG) ClearRefundPending(ctx context.Context, jobID string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QClearJobRefundPending, jobID)
	if err != nil {
		return fmt.Errorf("clear refund pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateProgress records a non-authoritative progress value; terminal jobs are left alone.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateJobProgress, jobID, progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) ListByBatch(ctx context.Context, batchID string) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QSelectJobsByBatch, batchID)
}

func (r *JobRepositoryPG) ListStuck(ctx context.Context, submittedBefore time.Time, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QSelectStuckJobs, submittedBefore, limit)
}

func (r *JobRepositoryPG) ListRefundPending(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QSelectRefundPendingJobs, limit)
}

func (r *JobRepositoryPG) ListArchivePending(ctx context.Context, limit int) ([]domain.Job, error) {
	return r.list(ctx, sqlinline.QSelectArchivePendingJobs, limit)
}

// FinishArchive settles the archive step of a COMPLETED job.
func (r *JobRepositoryPG) FinishArchive(ctx context.Context, jobID, ref string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QFinishJobArchive, jobID, ref)
	if err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.requireExists(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidStateTransition
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job    domain.Job
		state  string
		images []byte
		issues []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.BatchID,
		&state,
		&job.Format,
		&job.DurationSeconds,
		&job.Prompt,
		&images,
		&job.ExternalTaskID,
		&job.CostCredits,
		&job.ArtifactURL,
		&job.QualityScore,
		&issues,
		&job.FailureReason,
		&job.Progress,
		&job.RefundPending,
		&job.ArchivePending,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.State = domain.JobState(state)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &job.ImageURLs); err != nil {
			return nil, fmt.Errorf("decode image urls: %w", err)
		}
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &job.QualityIssues); err != nil {
			return nil, fmt.Errorf("decode quality issues: %w", err)
		}
	}
	return &job, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilIssues(v []domain.QualityIssue) []domain.QualityIssue {
	if v == nil {
		return []domain.QualityIssue{}
	}
	return v
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
