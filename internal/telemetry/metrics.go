package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Submissions        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelgen_submissions_total", Help: "Generation submissions by result"}, []string{"result"})
	WebhookOutcomes    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelgen_webhook_outcomes_total", Help: "Provider notifications by reconcile outcome"}, []string{"outcome"})
	Refunds            = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelgen_refunds_total", Help: "Refund attempts by result"}, []string{"result"})
	RefundWriteFailure = prometheus.NewCounter(prometheus.CounterOpts{Name: "reelgen_refund_write_failures_total", Help: "Refunds that could not be recorded after retries"})
	LedgerDebits       = prometheus.NewCounter(prometheus.CounterOpts{Name: "reelgen_ledger_debits_total", Help: "Generation debits recorded"})
	LedgerCredits      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelgen_ledger_credits_total", Help: "Purchase credits by result"}, []string{"result"})
	QualityScores      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "reelgen_quality_score", Help: "Quality gate scores", Buckets: []float64{0, 0.2, 0.4, 0.5, 0.6, 0.8, 0.9, 0.95, 1}})
	BreakerPhase       = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "reelgen_breaker_phase", Help: "Circuit breaker phase (0 closed, 1 half-open, 2 open)"}, []string{"name"})
	SweptJobs          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reelgen_swept_jobs_total", Help: "Stuck jobs handled by the sweeper by action"}, []string{"action"})
)

// BreakerPhaseValue maps a breaker phase name to the gauge value.
func BreakerPhaseValue(phase string) float64 {
	switch phase {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	default:
		return 0
	}
}

// Register adds the collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			Submissions,
			WebhookOutcomes,
			Refunds,
			RefundWriteFailure,
			LedgerDebits,
			LedgerCredits,
			QualityScores,
			BreakerPhase,
			SweptJobs,
		)
	})
}

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
