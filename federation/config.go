// Package federation implements the federated peer-to-peer chunk fetcher
// of spec §4.7: rendezvous-hashing peer selection over a tiered fabric of
// leaves, cell-hubs, and region-hubs, with per-peer circuit breakers,
// request coalescing, allowlisted endpoints, Ed25519-signed manifests, and
// the wire surface of spec §6.5.
package federation

import "time"

// Config holds every tunable the spec names for the fetcher, with the
// spec's own defaults.
type Config struct {
	// K is the number of top-ranked candidate peers tried per chunk.
	K int

	// PreferCell stratifies peer selection: when true, cell-hub
	// candidates are exhausted (all tried and failed or circuit-open)
	// before region-hubs are consulted at all.
	PreferCell bool

	// CircuitThreshold is the number of consecutive failures that opens
	// a peer's circuit.
	CircuitThreshold int

	// CircuitCooldown is the base cooldown duration for an open circuit.
	CircuitCooldown time.Duration

	// JitterFactor scales CircuitCooldown by ±JitterFactor to avoid
	// thundering-herd re-probes (0.5 means ±50%).
	JitterFactor float64

	// RequestTimeout bounds a single peer request.
	RequestTimeout time.Duration

	// MaxChunkSize bounds the size of a single fetched chunk; larger
	// responses are rejected.
	MaxChunkSize int64

	// ManifestAllowUnsigned tolerates a manifest with no signature.
	// Defaults to true; production deployments should set it false.
	ManifestAllowUnsigned bool

	// Allowlist restricts which endpoints may ever be contacted, per
	// tier. A peer whose endpoint matches no allowlist entry is
	// silently skipped during selection.
	Allowlist *Allowlist

	// TrustedKeys are the Ed25519 public keys manifests are verified
	// against. Any one matching signature is sufficient.
	TrustedKeys []TrustedKey
}

// DefaultConfig returns the spec-mandated defaults (§4.7): k=3,
// circuit_threshold=5, circuit_cooldown_secs=30±50%, request_timeout_ms=5000,
// manifest_allow_unsigned=true.
func DefaultConfig() Config {
	return Config{
		K:                     3,
		PreferCell:            true,
		CircuitThreshold:      5,
		CircuitCooldown:       30 * time.Second,
		JitterFactor:          0.5,
		RequestTimeout:        5 * time.Second,
		MaxChunkSize:          64 << 20,
		ManifestAllowUnsigned: true,
		Allowlist:             NewAllowlist(),
	}
}
