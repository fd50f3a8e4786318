package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/conarylabs/conary/types"
)

// Client speaks the federation wire protocol of spec §6.5 against one
// peer endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxSize    int64
}

// NewClient returns a Client for endpoint (e.g. "https://cell-7.internal")
// bounding responses to maxSize bytes and requests to timeout.
func NewClient(endpoint string, timeout time.Duration, maxSize int64, transport http.RoundTripper) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		maxSize:    maxSize,
	}
}

// Has performs HEAD /v1/chunks/{hash} - the cheap negative response path.
func (c *Client) Has(ctx context.Context, h types.Hash) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint+"/v1/chunks/"+h.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.endpoint)
	}
}

// Fetch performs GET /v1/chunks/{hash} and returns the raw chunk bytes,
// verifying both the response size bound and the content hash itself -
// spec §7: "A chunk whose actual hash does not match its manifest entry
// is rejected and treated as a peer failure."
func (c *Client) Fetch(ctx context.Context, h types.Hash) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/chunks/"+h.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s from %s", resp.StatusCode, h, c.endpoint)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("chunk %s from %s exceeds max_chunk_size", h, c.endpoint)
	}
	got := types.HashBytes(data)
	if got != h {
		return nil, &IntegrityError{Expected: h, Actual: got, Peer: c.endpoint}
	}
	return data, nil
}

// FindMissing performs POST /v1/chunks/find-missing.
func (c *Client) FindMissing(ctx context.Context, hashes []types.Hash) ([]types.Hash, error) {
	body, err := json.Marshal(FindMissingRequest{Hashes: hashes})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chunks/find-missing", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from find-missing on %s", resp.StatusCode, c.endpoint)
	}
	var out FindMissingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Missing, nil
}

// Batch performs POST /v1/chunks/batch, returning the fetched chunks
// keyed by hash. Hashes the peer does not have are simply absent from the
// result - callers fall back to per-chunk Fetch or upstream for those.
func (c *Client) Batch(ctx context.Context, hashes []types.Hash) (map[types.Hash][]byte, error) {
	body, err := cbor.Marshal(BatchRequest{Hashes: hashes})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chunks/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/cbor")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from batch on %s", resp.StatusCode, c.endpoint)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out BatchResponse
	if err := cbor.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	result := make(map[types.Hash][]byte, len(out.Chunks))
	for _, ch := range out.Chunks {
		result[ch.Hash] = ch.Data
	}
	return result, nil
}

// Directory performs GET /v1/federation/directory, used for bootstrapping
// a node's initial peer set.
func (c *Client) Directory(ctx context.Context) ([]DirectoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/federation/directory", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from directory on %s", resp.StatusCode, c.endpoint)
	}
	var out DirectoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Peers, nil
}
