package federation

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes spec §4.7's per-day statistics as live prometheus
// instruments, in addition to the daily db.FederationStats rows recorded
// by the Fetcher's stats recorder - "used for cache-effectiveness reporting only - not for
// control decisions" per spec, exactly like the DB rows.
type Metrics struct {
	BytesFromPeers      prometheus.Counter
	BytesFromUpstream   prometheus.Counter
	ChunksFromPeers     prometheus.Counter
	ChunksFromUpstream  prometheus.Counter
	RequestsCoalesced   prometheus.Counter
	CircuitBreakerTrips prometheus.Counter
	ActivePeers         prometheus.Gauge
}

// NewMetrics registers a fresh set of federation metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BytesFromPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "bytes_from_peers_total",
			Help: "Total bytes served by peer chunks rather than upstream.",
		}),
		BytesFromUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "bytes_from_upstream_total",
			Help: "Total bytes served by falling back to upstream.",
		}),
		ChunksFromPeers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "chunks_from_peers_total",
			Help: "Total chunks served by a federation peer.",
		}),
		ChunksFromUpstream: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "chunks_from_upstream_total",
			Help: "Total chunks served by falling back to upstream.",
		}),
		RequestsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "requests_coalesced_total",
			Help: "Total requests that rode an in-flight request for the same chunk.",
		}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conary", Subsystem: "federation", Name: "circuit_breaker_trips_total",
			Help: "Total times a peer's circuit breaker opened.",
		}),
		ActivePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "conary", Subsystem: "federation", Name: "active_peers",
			Help: "Number of peers currently enabled (circuit closed).",
		}),
	}
	reg.MustRegister(m.BytesFromPeers, m.BytesFromUpstream, m.ChunksFromPeers,
		m.ChunksFromUpstream, m.RequestsCoalesced, m.CircuitBreakerTrips, m.ActivePeers)
	return m
}
