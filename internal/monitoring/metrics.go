package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters for the ingest pipeline. Registered on the default
// registerer so /metrics picks them up without extra wiring.
var (
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "v2v_messages_total",
		Help: "Telemetry messages accepted for processing.",
	})

	MessagesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v2v_messages_rejected_total",
		Help: "Telemetry messages rejected before processing.",
	}, []string{"reason"})

	ThreatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v2v_threats_total",
		Help: "Threat notifications emitted, by predictor type.",
	}, []string{"type"})

	NeighborsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "v2v_neighbors_skipped_total",
		Help: "Neighbor candidates skipped during prediction.",
	}, []string{"reason"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "v2v_sessions_active",
		Help: "Currently open telemetry sessions.",
	})
)
