package federation

import "github.com/conarylabs/conary/types"

// BatchRequest is the body of POST /v1/chunks/batch (spec §6.5): request
// multiple chunks in one round-trip.
type BatchRequest struct {
	Hashes []types.Hash `cbor:"hashes"`
}

// BatchChunk is one chunk's bytes within a BatchResponse.
type BatchChunk struct {
	Hash types.Hash `cbor:"hash"`
	Data []byte     `cbor:"data"`
}

// BatchResponse is the body of a successful POST /v1/chunks/batch
// response, CBOR-encoded per SPEC_FULL.md's wire-framing choice: batch
// payloads are bulk chunk bytes, not the small discrete records the
// journal deals in.
type BatchResponse struct {
	Chunks []BatchChunk `cbor:"chunks"`
}

// FindMissingRequest is the body of POST /v1/chunks/find-missing.
type FindMissingRequest struct {
	Hashes []types.Hash `json:"hashes"`
}

// FindMissingResponse lists the subset of the request not held locally.
type FindMissingResponse struct {
	Missing []types.Hash `json:"missing"`
}

// DirectoryEntry is one peer as returned by GET /v1/federation/directory,
// used for bootstrapping a new node's peer set.
type DirectoryEntry struct {
	Endpoint string         `json:"endpoint"`
	NodeName string         `json:"node_name"`
	Tier     types.PeerTier `json:"tier"`
}

// DirectoryResponse is the body of GET /v1/federation/directory.
type DirectoryResponse struct {
	Peers []DirectoryEntry `json:"peers"`
}
