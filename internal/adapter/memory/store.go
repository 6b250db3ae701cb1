// Package memory keeps jobs and ledger entries in process memory. It backs
// STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reelgen/internal/domain"
)

type refKey struct {
	kind domain.EntryKind
	ref  string
}

// Store implements domain.JobRepository and domain.LedgerStore.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	byTask  map[string]string
	entries []domain.LedgerEntry
	refs    map[refKey]struct{}
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*domain.Job),
		byTask: make(map[string]string),
		refs:   make(map[refKey]struct{}),
		now:    time.Now,
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Jobs.

func (s *Store) Create(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id required", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s exists", domain.ErrDuplicateOperation, job.ID)
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	if job.ExternalTaskID != nil {
		s.byTask[*job.ExternalTaskID] = job.ID
	}
	return nil
}

func (s *Store) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) GetByExternalTaskID(_ context.Context, taskID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byTask[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

func (s *Store) SetExternalTaskID(_ context.Context, jobID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateSubmitted || job.ExternalTaskID != nil {
		return domain.ErrInvalidStateTransition
	}
	if other, taken := s.byTask[taskID]; taken && other != jobID {
		return fmt.Errorf("%w: task %s already bound", domain.ErrDuplicateOperation, taskID)
	}
	t := taskID
	job.ExternalTaskID = &t
	job.UpdatedAt = s.now().UTC()
	s.byTask[taskID] = jobID
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, jobID string, c domain.Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.State != domain.JobStateSubmitted {
		return false, nil
	}
	now := s.now().UTC()
	artifact := c.ArtifactURL
	score := c.QualityScore
	job.State = domain.JobStateCompleted
	job.ArtifactURL = &artifact
	job.QualityScore = &score
	job.QualityIssues = append([]domain.QualityIssue(nil), c.QualityIssues...)
	job.Progress = 100
	job.ArchivePending = c.ArchivePending
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (s *Store) MarkFailed(_ context.Context, jobID string, f domain.Failure) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.State != domain.JobStateSubmitted {
		return false, nil
	}
	now := s.now().UTC()
	reason := f.Reason
	job.State = domain.JobStateFailed
	job.FailureReason = &reason
	if f.QualityScore != nil {
		score := *f.QualityScore
		job.QualityScore = &score
	}
	job.QualityIssues = append([]domain.QualityIssue(nil), f.QualityIssues...)
	job.RefundPending = true
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (s *Store) ClearRefundPending(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	job.RefundPending = false
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateSubmitted {
		return nil
	}
	job.Progress = progress
	job.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) ListByBatch(_ context.Context, batchID string) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.BatchID != nil && *job.BatchID == batchID {
			out = append(out, *cloneJob(job))
		}
	}
	sortJobs(out)
	return out, nil
}

func (s *Store) ListStuck(_ context.Context, submittedBefore time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobStateSubmitted && job.CreatedAt.Before(submittedBefore) {
			out = append(out, *cloneJob(job))
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRefundPending(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobStateFailed && job.RefundPending {
			out = append(out, *cloneJob(job))
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListArchivePending(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if job.State == domain.JobStateCompleted && job.ArchivePending {
			out = append(out, *cloneJob(job))
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FinishArchive(_ context.Context, jobID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.JobStateCompleted {
		return domain.ErrInvalidStateTransition
	}
	if ref != "" {
		r := ref
		job.ArtifactURL = &r
	}
	job.ArchivePending = false
	job.UpdatedAt = s.now().UTC()
	return nil
}

// Ledger.

func (s *Store) Balance(_ context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(ownerID), nil
}

func (s *Store) Debit(_ context.Context, entry domain.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ExternalReference != nil {
		if _, dup := s.refs[refKey{entry.Kind, *entry.ExternalReference}]; dup {
			return 0, domain.ErrDuplicateOperation
		}
	}
	balance := s.balanceLocked(entry.OwnerID)
	if balance+entry.Amount < 0 {
		return 0, &domain.InsufficientCreditError{Required: -entry.Amount, Available: balance}
	}
	s.appendLocked(entry)
	return balance + entry.Amount, nil
}

func (s *Store) AppendIdempotent(_ context.Context, entry domain.LedgerEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ExternalReference != nil {
		if _, dup := s.refs[refKey{entry.Kind, *entry.ExternalReference}]; dup {
			return false, nil
		}
	}
	s.appendLocked(entry)
	return true, nil
}

func (s *Store) Entries(_ context.Context, ownerID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].OwnerID != ownerID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) balanceLocked(ownerID string) int64 {
	var total int64
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			total += e.Amount
		}
	}
	return total
}

func (s *Store) appendLocked(entry domain.LedgerEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.ExternalReference != nil {
		ref := *entry.ExternalReference
		entry.ExternalReference = &ref
		s.refs[refKey{entry.Kind, ref}] = struct{}{}
	}
	s.entries = append(s.entries, entry)
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	c.ImageURLs = append([]string(nil), j.ImageURLs...)
	c.QualityIssues = append([]domain.QualityIssue(nil), j.QualityIssues...)
	c.BatchID = cloneString(j.BatchID)
	c.ExternalTaskID = cloneString(j.ExternalTaskID)
	c.ArtifactURL = cloneString(j.ArtifactURL)
	c.FailureReason = cloneString(j.FailureReason)
	if j.QualityScore != nil {
		v := *j.QualityScore
		c.QualityScore = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func sortJobs(jobs []domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

var (
	_ domain.JobRepository = (*Store)(nil)
	_ domain.LedgerStore   = (*Store)(nil)
)
