package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgpl_gate_requests_total",
			Help: "Metered requests by outcome",
		},
		[]string{"outcome"}, // admitted|quota_rejected|throttled|unauthorized
	)

	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgpl_settlements_total",
			Help: "Settlement outcomes",
		},
		[]string{"outcome"}, // recorded|compensated|error
	)

	ExporterEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgpl_exporter_events_total",
			Help: "Usage events handled by the exporter worker",
		},
		[]string{"outcome"}, // flushed|poison|error
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		GateRequestsTotal,
		SettlementsTotal,
		ExporterEventsTotal,
	)
}
