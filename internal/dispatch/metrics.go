package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeBlocked  = "blocked"
	OutcomeBackfill = "backfill"
	OutcomeFiltered = "filtered"
	OutcomeGivenUp  = "given_up"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	// Labels: target, outcome
	Deliveries *prometheus.CounterVec
	// Labels: source
	BatchDuration *prometheus.HistogramVec
}

// NewMetrics builds the dispatch metrics and registers them on reg when it
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "postrelay_deliveries_total",
			Help: "Delivery decisions per target and outcome.",
		}, []string{"target", "outcome"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "postrelay_batch_duration_seconds",
			Help:    "Wall time of one dispatch batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.Deliveries, m.BatchDuration)
	}
	return m
}

func (m *Metrics) delivery(target, outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) batch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.WithLabelValues(source).Observe(d.Seconds())
}
