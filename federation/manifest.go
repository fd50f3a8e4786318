package federation

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/conarylabs/conary/types"
)

// TrustedKey is one Ed25519 public key a manifest signature may be
// verified against, with a label for diagnostics (which cell/region the
// key belongs to).
type TrustedKey struct {
	Label     string
	PublicKey ed25519.PublicKey
}

// Manifest describes a federated resource's chunk list and metadata, per
// spec §4.7/§6.5: "Each federated resource is accompanied by a signed
// manifest (Ed25519 over the chunk-list + metadata)."
type Manifest struct {
	Name          string       `json:"name"`
	WholeFileHash types.Hash   `json:"whole_file_hash"`
	Size          int64        `json:"size"`
	ChunkHashes   []types.Hash `json:"chunk_hashes"`

	// Signature is the Ed25519 signature over SignedBytes(), base64-less
	// raw bytes (carried as "MANIFEST.sig" alongside the manifest per
	// spec §6.5). Nil/empty means unsigned.
	Signature []byte `json:"-"`
}

// SignedBytes returns the canonical byte representation a signature is
// computed/verified over: the manifest's fields, JSON-encoded, with the
// Signature field itself excluded (it has json:"-").
func (m Manifest) SignedBytes() ([]byte, error) {
	return json.Marshal(m)
}

// Sign computes m.Signature using priv. Used by manifest producers (the
// reference server and tests); fetchers only ever verify.
func (m *Manifest) Sign(priv ed25519.PrivateKey) error {
	b, err := m.SignedBytes()
	if err != nil {
		return err
	}
	m.Signature = ed25519.Sign(priv, b)
	return nil
}

// Verify checks m's signature against any key in keys, honoring
// allowUnsigned for a manifest with no signature attached. It returns nil
// if the manifest is acceptable, and a non-nil error naming the problem
// otherwise (treated by the fetcher as a peer failure, per spec §7's
// error taxonomy for integrity failures).
func (m Manifest) Verify(keys []TrustedKey, allowUnsigned bool) error {
	if len(m.Signature) == 0 {
		if allowUnsigned {
			return nil
		}
		return fmt.Errorf("manifest %q is unsigned and manifest_allow_unsigned is false", m.Name)
	}
	b, err := m.SignedBytes()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if ed25519.Verify(k.PublicKey, b, m.Signature) {
			return nil
		}
	}
	return fmt.Errorf("manifest %q signature does not verify against any trusted key", m.Name)
}
