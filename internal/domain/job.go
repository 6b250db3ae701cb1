package domain

import "time"

// JobState enumerates generation job lifecycle states.
type JobState string

const (
	JobStateDraft       JobState = "DRAFT"
	JobStateScriptReady JobState = "SCRIPT_READY"
	JobStateSubmitted   JobState = "SUBMITTED"
	JobStateCompleted   JobState = "COMPLETED"
	JobStateFailed      JobState = "FAILED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is one attempt at generating a single video artifact, billed once.
type Job struct {
	ID              string
	OwnerID         string
	BatchID         *string
	State           JobState
	Format          string
	DurationSeconds int
	Prompt          string
	ImageURLs       []string
	ExternalTaskID  *string
	CostCredits     int64
	ArtifactURL     *string
	QualityScore    *float64
	QualityIssues   []QualityIssue
	FailureReason   *string
	Progress        int
	// RefundPending marks a FAILED job whose refund has not been recorded yet.
	RefundPending bool
	// ArchivePending marks a COMPLETED job whose artifact still points at the
	// provider and should be copied into our storage.
	ArchivePending bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Completion carries the fields persisted on a SUBMITTED -> COMPLETED transition.
type Completion struct {
	ArtifactURL   string
	QualityScore  float64
	QualityIssues []QualityIssue
	// ArchivePending queues the artifact for copying into our storage.
	ArchivePending bool
}

// Failure carries the fields persisted on a SUBMITTED -> FAILED transition.
type Failure struct {
	Reason        string
	QualityScore  *float64
	QualityIssues []QualityIssue
}

// QualityIssue is one diagnostic produced by the quality gate.
type QualityIssue struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// BatchStatus is the derived aggregate over the jobs of a batch.
type BatchStatus struct {
	BatchID   string `json:"batch_id"`
	Total     int    `json:"total"`
	Pending   int    `json:"pending"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}
