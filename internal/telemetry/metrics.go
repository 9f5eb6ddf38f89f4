package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herdtrack",
			Name:      "messages_total",
			Help:      "Messages processed, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herdtrack",
			Name:      "updates_total",
			Help:      "Client record updates, applied vs. stale.",
		},
		[]string{"result"},
	)

	PropagationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herdtrack",
			Name:      "propagations_total",
			Help:      "Per-peer propagation attempts, by peer and outcome.",
		},
		[]string{"peer", "outcome"},
	)

	PlacesLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "herdtrack",
			Name:      "places_lookups_total",
			Help:      "Places gateway lookups, by outcome.",
		},
		[]string{"outcome"},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "herdtrack",
			Name:      "open_sessions",
			Help:      "Currently open client/peer connections.",
		},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "herdtrack",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(MessagesTotal, UpdatesTotal, PropagationsTotal,
		PlacesLookupsTotal, OpenSessions, uptime)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
