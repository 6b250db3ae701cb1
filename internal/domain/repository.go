package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for generation jobs. Terminal transitions
// are conditional: they apply only while the job is still SUBMITTED and report
// whether this call performed the transition.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetByExternalTaskID(ctx context.Context, taskID string) (*Job, error)
	SetExternalTaskID(ctx context.Context, jobID, taskID string) error
	MarkCompleted(ctx context.Context, jobID string, c Completion) (bool, error)
	// MarkFailed moves the job to FAILED and sets refund_pending in the same write.
	MarkFailed(ctx context.Context, jobID string, f Failure) (bool, error)
	ClearRefundPending(ctx context.Context, jobID string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	ListByBatch(ctx context.Context, batchID string) ([]Job, error)
	ListStuck(ctx context.Context, submittedBefore time.Time, limit int) ([]Job, error)
	ListRefundPending(ctx context.Context, limit int) ([]Job, error)
	ListArchivePending(ctx context.Context, limit int) ([]Job, error)
	// FinishArchive clears archive_pending on a COMPLETED job and, when ref is
	// non-empty, replaces its artifact url with ref.
	FinishArchive(ctx context.Context, jobID, ref string) error
}

// LedgerStore is the append-only credit log.
type LedgerStore interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
	// Debit appends entry only if the owner's balance covers it, atomically with
	// the check. It returns the balance after the debit.
	Debit(ctx context.Context, entry LedgerEntry) (int64, error)
	// AppendIdempotent appends entry unless one with the same kind and external
	// reference exists. It reports whether the entry was written.
	AppendIdempotent(ctx context.Context, entry LedgerEntry) (bool, error)
	Entries(ctx context.Context, ownerID string, limit int) ([]LedgerEntry, error)
}
