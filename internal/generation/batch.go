package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reelgen/internal/domain"
	"reelgen/internal/infra"
	"reelgen/internal/telemetry"
)

const (
	DefaultBatchMaxItems    = 50
	DefaultBatchConcurrency = 4
)

// BatchItem is one video of a batch. The owner comes from the batch.
type BatchItem struct {
	Format          string
	DurationSeconds int
	Title           string
	Script          string
	Locale          string
	ImageURLs       []string
}

// ItemResult reports how one batch item went. Err is nil for accepted items.
type ItemResult struct {
	Index       int
	CostCredits int64
	Job         *domain.Job
	Err         error
}

type BatchResult struct {
	BatchID   string
	TotalCost int64
	Items     []ItemResult
}

// Accepted counts items the provider accepted.
func (r *BatchResult) Accepted() int {
	n := 0
	for _, item := range r.Items {
		if item.Err == nil {
			n++
		}
	}
	return n
}

type BatchDeps struct {
	Orchestrator *Orchestrator
	Ledger       Ledger
	Jobs         domain.JobRepository
	Logger       infra.Logger
	MaxItems     int
	Concurrency  int
	NewID        func() string
}

// BatchCoordinator submits many items under one user action, best effort.
type BatchCoordinator struct {
	orchestrator *Orchestrator
	ledger       Ledger
	jobs         domain.JobRepository
	logger       infra.Logger
	maxItems     int
	concurrency  int
	newID        func() string
}

func NewBatchCoordinator(d BatchDeps) *BatchCoordinator {
	if d.MaxItems <= 0 {
		d.MaxItems = DefaultBatchMaxItems
	}
	if d.Concurrency <= 0 {
		d.Concurrency = DefaultBatchConcurrency
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &BatchCoordinator{
		orchestrator: d.Orchestrator,
		ledger:       d.Ledger,
		jobs:         d.Jobs,
		logger:       d.Logger,
		maxItems:     d.MaxItems,
		concurrency:  d.Concurrency,
		newID:        d.NewID,
	}
}

// Submit prices every item, checks the owner can afford the whole batch once,
// then submits the items in parallel. The upfront check reserves nothing; each
// item still debits on its own, so late items may be refused if the balance
// moved in between. One item's failure never affects its siblings.
func (c *BatchCoordinator) Submit(ctx context.Context, ownerID string, items []BatchItem) (*BatchResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id required", domain.ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", domain.ErrInvalidInput)
	}
	if len(items) > c.maxItems {
		return nil, fmt.Errorf("%w: batch exceeds %d items", domain.ErrInvalidInput, c.maxItems)
	}

	costs := make([]int64, len(items))
	var total int64
	for i, item := range items {
		cost, err := c.orchestrator.Pricer().Cost(item.Format, item.DurationSeconds)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		costs[i] = cost
		total += cost
	}

	balance, err := c.ledger.Balance(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if balance < total {
		return nil, &domain.InsufficientCreditError{Required: total, Available: balance, Batch: true}
	}

	result := &BatchResult{
		BatchID:   c.newID(),
		TotalCost: total,
		Items:     make([]ItemResult, len(items)),
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, item := range items {
		g.Go(func() error {
			job, err := c.orchestrator.Submit(ctx, SubmitRequest{
				OwnerID:         ownerID,
				Format:          item.Format,
				DurationSeconds: item.DurationSeconds,
				Title:           item.Title,
				Script:          item.Script,
				Locale:          item.Locale,
				ImageURLs:       item.ImageURLs,
				BatchID:         result.BatchID,
			})
			result.Items[i] = ItemResult{Index: i, CostCredits: costs[i], Job: job, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	accepted := result.Accepted()
	c.logger.Info().
		Str("batch_id", result.BatchID).
		Str("owner_id", ownerID).
		Int("items", len(items)).
		Int("accepted", accepted).
		Int64("total_cost", total).
		Msg("generation: batch submitted")
	if accepted < len(items) {
		telemetry.Submissions.WithLabelValues("batch_partial").Inc()
	}
	return result, nil
}

// Status derives batch progress from the current job rows.
func (c *BatchCoordinator) Status(ctx context.Context, ownerID, batchID string) (domain.BatchStatus, error) {
	jobs, err := c.jobs.ListByBatch(ctx, batchID)
	if err != nil {
		return domain.BatchStatus{}, err
	}
	if len(jobs) == 0 {
		return domain.BatchStatus{}, domain.ErrNotFound
	}
	status := domain.BatchStatus{BatchID: batchID}
	for _, job := range jobs {
		if job.OwnerID != ownerID {
			return domain.BatchStatus{}, domain.ErrNotFound
		}
		status.Total++
		switch job.State {
		case domain.JobStateCompleted:
			status.Succeeded++
		case domain.JobStateFailed:
			status.Failed++
		default:
			status.Pending++
		}
	}
	return status, nil
}
