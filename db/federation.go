package db

import (
	"database/sql"

	"github.com/conarylabs/conary/types"
)

// FederationPeer is a known peer in the chunk-fetching fabric (spec §4.7),
// tracked with the running latency/failure counters the circuit breaker
// and rendezvous-hashing selector read on every fetch decision.
type FederationPeer struct {
	ID                  int64
	Endpoint            string
	NodeName            string
	Tier                types.PeerTier
	LatencyMS           float64
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int
	IsEnabled           bool
	LastSeen            int64
}

// FederationStats is one day's aggregate counters for the chunk fetcher's
// prometheus-exported statistics.
type FederationStats struct {
	Date                string
	BytesFromPeers      int64
	BytesFromUpstream   int64
	ChunksFromPeers     int64
	ChunksFromUpstream  int64
	RequestsCoalesced   int64
	CircuitBreakerTrips int64
	PeerCount           int
}

// UpsertFederationPeer inserts or updates a peer row by endpoint.
func UpsertFederationPeer(tx *sql.Tx, p FederationPeer) error {
	_, err := tx.Exec(
		`INSERT INTO federation_peers (endpoint, node_name, tier, latency_ms, success_count, failure_count, consecutive_failures, is_enabled, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET
			node_name = excluded.node_name,
			tier = excluded.tier,
			latency_ms = excluded.latency_ms,
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			consecutive_failures = excluded.consecutive_failures,
			is_enabled = excluded.is_enabled,
			last_seen = excluded.last_seen`,
		p.Endpoint, p.NodeName, string(p.Tier), p.LatencyMS, p.SuccessCount, p.FailureCount,
		p.ConsecutiveFailures, boolToInt(p.IsEnabled), p.LastSeen,
	)
	return err
}

// ListFederationPeers returns every known peer, the candidate set the
// rendezvous-hashing selector ranks on each fetch.
func ListFederationPeers(tx *sql.Tx) ([]FederationPeer, error) {
	rows, err := tx.Query(
		`SELECT id, endpoint, node_name, tier, latency_ms, success_count, failure_count, consecutive_failures, is_enabled, last_seen
		 FROM federation_peers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FederationPeer
	for rows.Next() {
		p, err := scanFederationPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListEnabledFederationPeers returns only peers whose enabled flag is set
// (is_enabled = 1). The flag is written only by UpsertFederationPeer and
// SetFederationPeerEnabled, not by the fetcher's circuit breaker.
func ListEnabledFederationPeers(tx *sql.Tx) ([]FederationPeer, error) {
	rows, err := tx.Query(
		`SELECT id, endpoint, node_name, tier, latency_ms, success_count, failure_count, consecutive_failures, is_enabled, last_seen
		 FROM federation_peers WHERE is_enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FederationPeer
	for rows.Next() {
		p, err := scanFederationPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordFederationOutcome updates a peer's rolling counters after one
// fetch attempt. On success it resets ConsecutiveFailures to zero, the
// same reset the fetcher's in-memory circuit breaker applies on success.
func RecordFederationOutcome(tx *sql.Tx, endpoint string, success bool, latencyMS float64, now int64) error {
	if success {
		_, err := tx.Exec(
			`UPDATE federation_peers SET success_count = success_count + 1, consecutive_failures = 0,
			 latency_ms = ?, last_seen = ? WHERE endpoint = ?`,
			latencyMS, now, endpoint,
		)
		return err
	}
	_, err := tx.Exec(
		`UPDATE federation_peers SET failure_count = failure_count + 1, consecutive_failures = consecutive_failures + 1,
		 last_seen = ? WHERE endpoint = ?`,
		now, endpoint,
	)
	return err
}

// SetFederationPeerEnabled sets a peer's enabled flag.
func SetFederationPeerEnabled(tx *sql.Tx, endpoint string, enabled bool) error {
	_, err := tx.Exec(`UPDATE federation_peers SET is_enabled = ? WHERE endpoint = ?`, boolToInt(enabled), endpoint)
	return err
}

// UpsertFederationStats inserts or accumulates counters for one day's row.
func UpsertFederationStats(tx *sql.Tx, s FederationStats) error {
	_, err := tx.Exec(
		`INSERT INTO federation_stats (date, bytes_from_peers, bytes_from_upstream, chunks_from_peers, chunks_from_upstream, requests_coalesced, circuit_breaker_trips, peer_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date) DO UPDATE SET
			bytes_from_peers = bytes_from_peers + excluded.bytes_from_peers,
			bytes_from_upstream = bytes_from_upstream + excluded.bytes_from_upstream,
			chunks_from_peers = chunks_from_peers + excluded.chunks_from_peers,
			chunks_from_upstream = chunks_from_upstream + excluded.chunks_from_upstream,
			requests_coalesced = requests_coalesced + excluded.requests_coalesced,
			circuit_breaker_trips = circuit_breaker_trips + excluded.circuit_breaker_trips,
			peer_count = excluded.peer_count`,
		s.Date, s.BytesFromPeers, s.BytesFromUpstream, s.ChunksFromPeers, s.ChunksFromUpstream,
		s.RequestsCoalesced, s.CircuitBreakerTrips, s.PeerCount,
	)
	return err
}

// GetFederationStats returns the stats row for date, or a zero value if
// none has been recorded yet.
func GetFederationStats(tx *sql.Tx, date string) (FederationStats, error) {
	var s FederationStats
	err := tx.QueryRow(
		`SELECT date, bytes_from_peers, bytes_from_upstream, chunks_from_peers, chunks_from_upstream, requests_coalesced, circuit_breaker_trips, peer_count
		 FROM federation_stats WHERE date = ?`, date).
		Scan(&s.Date, &s.BytesFromPeers, &s.BytesFromUpstream, &s.ChunksFromPeers, &s.ChunksFromUpstream,
			&s.RequestsCoalesced, &s.CircuitBreakerTrips, &s.PeerCount)
	if err == sql.ErrNoRows {
		return FederationStats{Date: date}, nil
	}
	return s, err
}

func scanFederationPeer(rows *sql.Rows) (FederationPeer, error) {
	var p FederationPeer
	var tier string
	var enabled int
	if err := rows.Scan(&p.ID, &p.Endpoint, &p.NodeName, &tier, &p.LatencyMS, &p.SuccessCount,
		&p.FailureCount, &p.ConsecutiveFailures, &enabled, &p.LastSeen); err != nil {
		return FederationPeer{}, err
	}
	p.Tier = types.PeerTier(tier)
	p.IsEnabled = enabled != 0
	return p, nil
}
