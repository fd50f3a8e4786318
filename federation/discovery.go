package federation

import (
	"sync"

	"github.com/conarylabs/conary/types"
)

// Announcement is the payload spec §4.7 discovery advertises:
// "(instance, endpoint, tier, version)".
type Announcement struct {
	Instance string
	Endpoint string
	Tier     types.PeerTier
	Version  string
}

// Discovery records peers seen via local-network advertisement. It is
// transport-agnostic on purpose - spec §4.7 only requires that discovery
// be "additive; it never disables a configured peer", not any particular
// broadcast mechanism, so the transport (mDNS, a UDP beacon, a sidecar)
// is left to the embedder; this type is what that transport feeds.
type Discovery struct {
	mu     sync.Mutex
	seen   map[string]Announcement
	onPeer func(Announcement)
}

// NewDiscovery returns a Discovery that calls onPeer (if non-nil) the
// first time a given endpoint is announced.
func NewDiscovery(onPeer func(Announcement)) *Discovery {
	return &Discovery{seen: make(map[string]Announcement), onPeer: onPeer}
}

// Observe records ann, invoking onPeer if this endpoint has not been seen
// before. Re-announcements of an already-seen endpoint silently update the
// record (a peer's advertised tier/version may change) without re-firing
// onPeer, since discovery is meant to add candidates, not repeatedly
// trigger whatever enrollment side effect onPeer performs.
func (d *Discovery) Observe(ann Announcement) {
	d.mu.Lock()
	_, known := d.seen[ann.Endpoint]
	d.seen[ann.Endpoint] = ann
	d.mu.Unlock()
	if !known && d.onPeer != nil {
		d.onPeer(ann)
	}
}

// Peers returns every distinct endpoint discovered so far, as selection
// candidates. Discovery never removes or disables a peer; it is purely
// additive per spec §4.7.
func (d *Discovery) Peers() []Peer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Peer, 0, len(d.seen))
	for _, a := range d.seen {
		out = append(out, Peer{Endpoint: a.Endpoint, NodeName: a.Instance, Tier: a.Tier})
	}
	return out
}
