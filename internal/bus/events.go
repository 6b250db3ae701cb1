package bus

// Subject suffixes appended to the configured event prefix.
const (
	SubjectJobCompleted = "completed"
	SubjectJobFailed    = "failed"
)

// JobCompleted is published after a job reaches COMPLETED.
type JobCompleted struct {
	JobID        string  `json:"job_id"`
	OwnerID      string  `json:"owner_id"`
	BatchID      string  `json:"batch_id,omitempty"`
	ArtifactURL  string  `json:"artifact_url"`
	QualityScore float64 `json:"quality_score"`
	CostCredits  int64   `json:"cost_credits"`
	HappenedAt   int64   `json:"happened_at"`
}

// JobFailed is published after a job reaches FAILED.
type JobFailed struct {
	JobID         string   `json:"job_id"`
	OwnerID       string   `json:"owner_id"`
	BatchID       string   `json:"batch_id,omitempty"`
	Reason        string   `json:"reason"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
	Refunded      bool     `json:"refunded"`
	RefundPending bool     `json:"refund_pending"`
	HappenedAt    int64    `json:"happened_at"`
}

// CreditPurchased is consumed from the payment subject and the payment
// webhook.
type CreditPurchased struct {
	OwnerID   string `json:"owner_id" validate:"required,max=128"`
	Credits   int64  `json:"credits" validate:"gt=0,lte=1000000"`
	PaymentID string `json:"payment_id" validate:"required,max=200"`
}
