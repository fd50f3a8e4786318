package federation

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/conarylabs/conary/types"
)

// Peer is the in-memory candidate a selector ranks: a thin projection of
// db.FederationPeer carrying only what selection needs, kept separate from
// the DB row so the hot path never touches *sql.Tx.
type Peer struct {
	Endpoint string
	NodeName string
	Tier     types.PeerTier
}

// score implements spec §4.7's rendezvous function: score(P,H) =
// hash(P.id || H). The same peer set always ranks a given hash the same
// way for every client, with no coordinator - this is what makes the same
// peer's cache warm for the same chunk across the whole fabric.
func score(peerID string, h types.Hash) uint64 {
	sum := sha256.Sum256(append([]byte(peerID), h[:]...))
	return binary.BigEndian.Uint64(sum[:8])
}

// ranked is one peer with its rendezvous score, used only while sorting.
type ranked struct {
	peer  Peer
	score uint64
}

// rankPeers sorts peers by descending rendezvous score for hash h. Ties
// (astronomically unlikely with a 64-bit score) are broken by endpoint to
// keep the order deterministic.
func rankPeers(peers []Peer, h types.Hash) []Peer {
	rs := make([]ranked, len(peers))
	for i, p := range peers {
		rs[i] = ranked{peer: p, score: score(p.Endpoint, h)}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		return rs[i].peer.Endpoint < rs[j].peer.Endpoint
	})
	out := make([]Peer, len(rs))
	for i, r := range rs {
		out[i] = r.peer
	}
	return out
}

// SelectPeers returns the full candidate order for hash h: every peer
// given, ranked by rendezvous score, in the order a fetcher should try
// them. It does not itself truncate to k - the caller tries candidates
// from this list, skipping circuit-open ones, until k peers have actually
// been attempted or one succeeds (see Fetcher.Fetch). Truncating here
// would let open circuits silently shrink the effective candidate pool.
//
// When preferCell is true, peers are stratified: cell-hub and leaf peers
// (the "local" tiers) are rendezvous-ranked and returned first, with
// region-hubs appended afterward in their own rendezvous order - so a
// region-hub is only reached once every local candidate has been tried.
func SelectPeers(peers []Peer, h types.Hash, preferCell bool) []Peer {
	if !preferCell {
		return rankPeers(peers, h)
	}

	var local, region []Peer
	for _, p := range peers {
		if p.Tier == types.PeerTierRegionHub {
			region = append(region, p)
		} else {
			local = append(local, p)
		}
	}
	return append(rankPeers(local, h), rankPeers(region, h)...)
}
