package federation

import (
	"database/sql"

	"github.com/conarylabs/conary/db"
)

// statsRecorder persists the day's rolling counters into federation_stats
// and mirrors them onto the live prometheus metrics. date is caller-
// supplied (YYYY-MM-DD) so the caller controls what "today" means; the
// Fetcher passes the current UTC date.
type statsRecorder struct {
	conn    *db.DB
	metrics *Metrics
}

func newStatsRecorder(conn *db.DB, metrics *Metrics) *statsRecorder {
	return &statsRecorder{conn: conn, metrics: metrics}
}

func (s *statsRecorder) recordPeerHit(date string, bytes int64) {
	s.update(date, db.FederationStats{BytesFromPeers: bytes, ChunksFromPeers: 1})
	if s.metrics != nil {
		s.metrics.BytesFromPeers.Add(float64(bytes))
		s.metrics.ChunksFromPeers.Inc()
	}
}

func (s *statsRecorder) recordUpstreamHit(date string, bytes int64) {
	s.update(date, db.FederationStats{BytesFromUpstream: bytes, ChunksFromUpstream: 1})
	if s.metrics != nil {
		s.metrics.BytesFromUpstream.Add(float64(bytes))
		s.metrics.ChunksFromUpstream.Inc()
	}
}

func (s *statsRecorder) recordCoalesced(date string) {
	s.update(date, db.FederationStats{RequestsCoalesced: 1})
	if s.metrics != nil {
		s.metrics.RequestsCoalesced.Inc()
	}
}

func (s *statsRecorder) recordCircuitTrip(date string) {
	s.update(date, db.FederationStats{CircuitBreakerTrips: 1})
	if s.metrics != nil {
		s.metrics.CircuitBreakerTrips.Inc()
	}
}

func (s *statsRecorder) recordActivePeerCount(date string, n int) {
	s.update(date, db.FederationStats{PeerCount: n})
	if s.metrics != nil {
		s.metrics.ActivePeers.Set(float64(n))
	}
}

func (s *statsRecorder) update(date string, delta db.FederationStats) {
	if s.conn == nil {
		return
	}
	delta.Date = date
	// Best-effort: a stats write failure must never fail a chunk fetch.
	_ = s.conn.Update(func(tx *sql.Tx) error {
		return db.UpsertFederationStats(tx, delta)
	})
}
