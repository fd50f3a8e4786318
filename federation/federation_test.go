package federation

import (
	"context"
	"crypto/ed25519"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/conarylabs/conary/build"
	"github.com/conarylabs/conary/cas"
	"github.com/conarylabs/conary/types"
)

func TestRendezvousStability(t *testing.T) {
	// Spec §8 invariant 7: if the top-ranked peer for H under the full set
	// P is also in a subset P', it must also be top-ranked under P'.
	full := []Peer{
		{Endpoint: "https://a"}, {Endpoint: "https://b"}, {Endpoint: "https://c"}, {Endpoint: "https://d"},
	}
	h := types.HashBytes([]byte("some chunk"))
	rankedFull := SelectPeers(full, h, false)
	top := rankedFull[0]

	subset := []Peer{full[0], full[2], full[3]}
	var inSubset bool
	for _, p := range subset {
		if p.Endpoint == top.Endpoint {
			inSubset = true
		}
	}
	if !inSubset {
		t.Skip("top peer not in this subset, property vacuously true")
	}
	rankedSubset := SelectPeers(subset, h, false)
	require.Equal(t, top.Endpoint, rankedSubset[0].Endpoint)
}

func TestRendezvousDeterministic(t *testing.T) {
	peers := []Peer{{Endpoint: "https://x"}, {Endpoint: "https://y"}}
	h := types.HashBytes([]byte("a chunk"))
	a := SelectPeers(peers, h, false)
	b := SelectPeers(peers, h, false)
	require.Equal(t, a, b)
}

func TestPreferCellStratifiesTiers(t *testing.T) {
	peers := []Peer{
		{Endpoint: "https://region1", Tier: types.PeerTierRegionHub},
		{Endpoint: "https://leaf1", Tier: types.PeerTierLeaf},
		{Endpoint: "https://cell1", Tier: types.PeerTierCellHub},
	}
	h := types.HashBytes([]byte("chunk"))
	ordered := SelectPeers(peers, h, true)
	require.Len(t, ordered, 3)
	require.Equal(t, types.PeerTierRegionHub, ordered[2].Tier)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitThreshold = 3
	cb := newCircuitBreaker(cfg)
	ep := "https://flaky"
	require.True(t, cb.Allowed(ep))
	require.False(t, cb.RecordFailure(ep))
	require.False(t, cb.RecordFailure(ep))
	require.True(t, cb.RecordFailure(ep))
	require.False(t, cb.Allowed(ep))
}

func TestCircuitBreakerClosesOnSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CircuitThreshold = 1
	cb := newCircuitBreaker(cfg)
	ep := "https://flaky"
	cb.RecordFailure(ep)
	require.False(t, cb.Allowed(ep))
	cb.RecordSuccess(ep)
	require.True(t, cb.Allowed(ep))
}

func TestAllowlistMatching(t *testing.T) {
	a := NewAllowlist()
	require.NoError(t, a.Add("https://*.example.com"))
	require.NoError(t, a.Add("http://leaf1:*"))

	require.True(t, a.Allows("https://cache07.example.com"))
	require.True(t, a.Allows("https://cache07.example.com:443"))
	require.False(t, a.Allows("https://example.com")) // bare domain, not a subdomain
	require.True(t, a.Allows("http://leaf1:9999"))
	require.False(t, a.Allows("https://leaf1:9999")) // wrong scheme
	require.False(t, a.Allows("https://evil.com"))
}

func TestManifestSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	m := Manifest{Name: "nginx", WholeFileHash: types.HashBytes([]byte("x")), Size: 1}
	require.NoError(t, m.Sign(priv))
	require.NoError(t, m.Verify([]TrustedKey{{Label: "test", PublicKey: pub}}, false))

	other := Manifest{Name: "nginx", WholeFileHash: types.HashBytes([]byte("x")), Size: 2}
	require.Error(t, other.Verify([]TrustedKey{{Label: "test", PublicKey: pub}}, false))
}

func TestManifestUnsignedPolicy(t *testing.T) {
	m := Manifest{Name: "unsigned"}
	require.NoError(t, m.Verify(nil, true))
	require.Error(t, m.Verify(nil, false))
}

func TestFetcherPrefersPeerOverUpstream(t *testing.T) {
	store := newTestChunkStore(t)
	data := []byte("peer content")
	h := types.HashBytes(data)
	store.StoreForTest(data)

	srv := httptest.NewServer(NewServer(ServerConfig{NodeName: "leaf1", Tier: types.PeerTierLeaf}, store, nil))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Allowlist.Add(srv.URL))
	fetcher := NewFetcher(cfg, []Peer{{Endpoint: srv.URL, Tier: types.PeerTierLeaf}}, alwaysFailUpstream{}, nil, metrics)

	got, err := fetcher.Fetch(context.Background(), h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetcherFallsBackToUpstream(t *testing.T) {
	data := []byte("upstream content")
	h := types.HashBytes(data)

	cfg := DefaultConfig()
	fetcher := NewFetcher(cfg, nil, staticUpstream{data: data}, nil, nil)

	got, err := fetcher.Fetch(context.Background(), h)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestFetcherNoPeerNoUpstream(t *testing.T) {
	cfg := DefaultConfig()
	fetcher := NewFetcher(cfg, nil, nil, nil, nil)
	_, err := fetcher.Fetch(context.Background(), types.HashBytes([]byte("missing")))
	require.Error(t, err)
	var notAvail *NoPeerAvailableError
	require.ErrorAs(t, err, &notAvail)
}

func TestDiscoveryIsAdditive(t *testing.T) {
	var fired int
	d := NewDiscovery(func(Announcement) { fired++ })
	ann := Announcement{Instance: "leaf1", Endpoint: "https://leaf1", Tier: types.PeerTierLeaf}
	d.Observe(ann)
	d.Observe(ann)
	require.Equal(t, 1, fired)
	require.Len(t, d.Peers(), 1)
}

// --- test helpers ---

type testChunkStore struct {
	s *cas.Store
}

func newTestChunkStore(t *testing.T) *testChunkStore {
	t.Helper()
	dir := build.TempDir("federation-chunks", t.Name())
	s, err := cas.New(dir)
	require.NoError(t, err)
	return &testChunkStore{s: s}
}

func (c *testChunkStore) StoreForTest(data []byte) {
	c.s.Store(data)
}

func (c *testChunkStore) Has(h types.Hash) bool { return c.s.Has(h) }

func (c *testChunkStore) Get(h types.Hash) ([]byte, error) { return c.s.Get(h) }

type staticUpstream struct{ data []byte }

func (u staticUpstream) Fetch(ctx context.Context, h types.Hash) ([]byte, error) {
	return u.data, nil
}

type alwaysFailUpstream struct{}

func (alwaysFailUpstream) Fetch(ctx context.Context, h types.Hash) ([]byte, error) {
	return nil, context.DeadlineExceeded
}

