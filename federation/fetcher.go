package federation

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/conarylabs/conary/db"
	"github.com/conarylabs/conary/types"
)

// UpstreamFetcher retrieves a chunk directly from the origin (the non-
// federated source of truth) when no peer can serve it.
type UpstreamFetcher interface {
	Fetch(ctx context.Context, h types.Hash) ([]byte, error)
}

// ClientFactory builds (or reuses) a wire Client for a peer endpoint.
type ClientFactory func(endpoint string, cfg Config) *Client

// Fetcher orchestrates spec §4.7 end-to-end: rendezvous peer ranking,
// tier stratification, allowlisting, circuit breaking, request
// coalescing, per-request timeouts, and upstream fallback.
type Fetcher struct {
	cfg       Config
	breaker   *circuitBreaker
	coalescer *coalescer
	clientFor ClientFactory
	upstream  UpstreamFetcher
	conn      *db.DB
	stats     *statsRecorder
	nowFn     func() time.Time
	dateFn    func() string

	mu    sync.RWMutex
	peers []Peer
}

func defaultClientFactory(endpoint string, cfg Config) *Client {
	return NewClient(endpoint, cfg.RequestTimeout, cfg.MaxChunkSize, nil)
}

// NewFetcher returns a Fetcher. conn and metrics may be nil (stats become
// no-ops); upstream may be nil (Fetch returns NoPeerAvailableError once
// every peer is exhausted, rather than ever falling back).
func NewFetcher(cfg Config, peers []Peer, upstream UpstreamFetcher, conn *db.DB, metrics *Metrics) *Fetcher {
	if cfg.Allowlist == nil {
		cfg.Allowlist = NewAllowlist()
	}
	return &Fetcher{
		cfg:       cfg,
		breaker:   newCircuitBreaker(cfg),
		coalescer: newCoalescer(),
		clientFor: defaultClientFactory,
		upstream:  upstream,
		conn:      conn,
		stats:     newStatsRecorder(conn, metrics),
		nowFn:     time.Now,
		dateFn:    func() string { return time.Now().UTC().Format("2006-01-02") },
		peers:     peers,
	}
}

// SetPeers replaces the candidate peer set, e.g. after a directory
// refresh or discovery observing new peers.
func (f *Fetcher) SetPeers(peers []Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = peers
}

func (f *Fetcher) snapshotPeers() []Peer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Peer, len(f.peers))
	copy(out, f.peers)
	return out
}

// Fetch retrieves the chunk named by h, trying up to cfg.K allowlisted,
// circuit-closed peers in rendezvous order before falling back to
// upstream (if configured). A cancelled request (ctx.Err() ==
// context.Canceled) does not count against a peer's circuit breaker, per
// spec §4.7; a timeout does.
func (f *Fetcher) Fetch(ctx context.Context, h types.Hash) ([]byte, error) {
	candidates := SelectPeers(f.snapshotPeers(), h, f.cfg.PreferCell)

	var tried int
	var lastErr error
	for _, p := range candidates {
		if tried >= f.cfg.K {
			break
		}
		if !f.cfg.Allowlist.Allows(p.Endpoint) {
			continue
		}
		if !f.breaker.Allowed(p.Endpoint) {
			continue
		}
		tried++

		reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
		start := f.nowFn()
		data, err, coalesced := f.coalescer.Do(p.Endpoint+"|"+h.String(), func() ([]byte, error) {
			return f.clientFor(p.Endpoint, f.cfg).Fetch(reqCtx, h)
		})
		latency := f.nowFn().Sub(start)
		cancel()

		if coalesced == 1 {
			f.stats.recordCoalesced(f.dateFn())
		}

		if err != nil {
			if ctx.Err() == context.Canceled {
				// Caller cancellation, not a peer fault: does not count.
				lastErr = err
				continue
			}
			tripped := f.breaker.RecordFailure(p.Endpoint)
			if tripped {
				f.stats.recordCircuitTrip(f.dateFn())
			}
			f.persistOutcome(p.Endpoint, false, 0)
			lastErr = err
			continue
		}

		f.breaker.RecordSuccess(p.Endpoint)
		f.persistOutcome(p.Endpoint, true, float64(latency.Milliseconds()))
		f.stats.recordPeerHit(f.dateFn(), int64(len(data)))
		return data, nil
	}

	if f.upstream != nil {
		data, err := f.upstream.Fetch(ctx, h)
		if err != nil {
			return nil, err
		}
		f.stats.recordUpstreamHit(f.dateFn(), int64(len(data)))
		return data, nil
	}

	return nil, &NoPeerAvailableError{Hash: h, Tried: tried, LastErr: lastErr}
}

func (f *Fetcher) persistOutcome(endpoint string, success bool, latencyMS float64) {
	if f.conn == nil {
		return
	}
	now := f.nowFn().Unix()
	_ = f.conn.Update(func(tx *sql.Tx) error {
		return db.RecordFederationOutcome(tx, endpoint, success, latencyMS, now)
	})
}

// ActivePeerCount returns how many known peers currently have a closed
// circuit, and records it as the day's active-peer-count statistic.
func (f *Fetcher) ActivePeerCount() int {
	peers := f.snapshotPeers()
	n := 0
	for _, p := range peers {
		if f.breaker.Allowed(p.Endpoint) {
			n++
		}
	}
	f.stats.recordActivePeerCount(f.dateFn(), n)
	return n
}
