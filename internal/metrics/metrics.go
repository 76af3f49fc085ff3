package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks escrow transitions, verdicts, distributions and ledger
// submissions.
type Metrics struct {
	EscrowTransitions  *prometheus.CounterVec
	Verdicts           *prometheus.CounterVec
	IntegrityFailures  *prometheus.CounterVec
	LedgerSubmissions  *prometheus.CounterVec
	LedgerDuration     *prometheus.HistogramVec
	PayoutsTotal       *prometheus.CounterVec
	Donations          prometheus.Counter
	DistributionAmount prometheus.Counter
	StuckEscrows       prometheus.Gauge
}

// New registers all metrics on reg. Pass prometheus.DefaultRegisterer in main
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EscrowTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impact_escrow_transitions_total",
			Help: "Escrow status transitions by target status",
		}, []string{"status"}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impact_oracle_verdicts_total",
			Help: "Processed oracle verdicts by outcome",
		}, []string{"outcome"}),
		IntegrityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impact_integrity_failures_total",
			Help: "Commitment and evidence integrity failures",
		}, []string{"kind"}),
		LedgerSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impact_ledger_submissions_total",
			Help: "Ledger submissions by operation and result",
		}, []string{"op", "result"}),
		LedgerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "impact_ledger_submission_duration_seconds",
			Help:    "Duration of ledger submissions",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		PayoutsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "impact_distribution_payouts_total",
			Help: "Distribution payouts by status",
		}, []string{"status"}),
		Donations: f.NewCounter(prometheus.CounterOpts{
			Name: "impact_donations_total",
			Help: "Accepted donations",
		}),
		DistributionAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "impact_distributed_amount_total",
			Help: "Sum of confirmed payouts",
		}),
		StuckEscrows: f.NewGauge(prometheus.GaugeOpts{
			Name: "impact_stuck_escrows",
			Help: "Locked escrows past deadline plus grace at the last sweep",
		}),
	}
}

// ObserveLedger records one ledger submission. Call with time.Now() taken
// before the submission.
func (m *Metrics) ObserveLedger(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerSubmissions.WithLabelValues(op, result).Inc()
	m.LedgerDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
