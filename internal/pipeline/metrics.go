package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pipeline outcomes. A nil registerer produces unregistered
// (but still usable) collectors, so library consumers without a metrics
// endpoint pay nothing.
type Metrics struct {
	Signatures           *prometheus.CounterVec
	ReceiptVerifications *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Signatures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall254",
			Subsystem: "pipeline",
			Name:      "signatures_total",
			Help:      "Signature attempts by result.",
		}, []string{"result"}),
		ReceiptVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall254",
			Subsystem: "pipeline",
			Name:      "receipt_verifications_total",
			Help:      "Receipt verification attempts by result.",
		}, []string{"result"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "recall254",
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual signing pipeline steps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
	}
}
