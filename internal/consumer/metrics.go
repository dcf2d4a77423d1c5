package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message kinds and failure reasons used as metric labels.
const (
	kindHarvestStatus = "harvest_status"
	kindWarcCreated   = "warc_created"
	kindUnexpected    = "unexpected"

	reasonMalformed       = "malformed"
	reasonHarvestNotFound = "harvest_not_found"
	reasonSeedNotFound    = "seed_not_found"
	reasonStore           = "store"
	reasonInvalidField    = "invalid_field"
	reasonDuplicate       = "duplicate"
)

// Metrics counts handled messages, failures, and expected skips such as
// redelivered events.
type Metrics struct {
	Messages *prometheus.CounterVec
	Failures *prometheus.CounterVec
	Skipped  *prometheus.CounterVec
}

// NewMetrics registers the consumer counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfm_consumer_messages_total",
			Help: "Total bus messages handled, by kind",
		}, []string{"kind"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfm_consumer_failures_total",
			Help: "Total message or sub-item failures, by kind and reason",
		}, []string{"kind", "reason"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sfm_consumer_skipped_total",
			Help: "Total messages skipped as already applied, by kind and reason",
		}, []string{"kind", "reason"}),
	}
}

func (m *Metrics) message(kind string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) failure(kind, reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) skipped(kind, reason string) {
	if m == nil {
		return
	}
	m.Skipped.WithLabelValues(kind, reason).Inc()
}
