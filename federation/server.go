package federation

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conarylabs/conary/types"
)

// ChunkSource is whatever local chunk storage a Server answers requests
// against - satisfied by *cas.Store.
type ChunkSource interface {
	Has(h types.Hash) bool
	Get(h types.Hash) ([]byte, error)
}

// ServerConfig configures a reference Server.
type ServerConfig struct {
	NodeName     string
	Tier         types.PeerTier
	MaxChunkSize int64
	// Directory returns the current known-peer list for
	// GET /v1/federation/directory.
	Directory func() []DirectoryEntry
}

// Server is a thin chi-routed implementation of the spec §6.5 wire
// surface, used both by tests and as the cell/leaf reference peer.
// Region-hub deployments additionally terminate mutual-TLS in front of
// this handler (out of this package's scope - a net/http.Server wraps it
// with tls.Config.ClientAuth = tls.RequireAndVerifyClientCert).
type Server struct {
	cfg    ServerConfig
	chunks ChunkSource
	ready  func() bool
	router chi.Router
}

// NewServer builds a Server backed by chunks, ready reporting whether
// GET /health/ready should answer 200 (nil means always ready).
func NewServer(cfg ServerConfig, chunks ChunkSource, ready func() bool) *Server {
	s := &Server{cfg: cfg, chunks: chunks, ready: ready}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	r.Route("/v1/chunks", func(r chi.Router) {
		r.Head("/{hash}", s.handleHead)
		r.Get("/{hash}", s.handleGet)
		r.Post("/find-missing", s.handleFindMissing)
		r.Post("/batch", s.handleBatch)
	})
	r.Get("/v1/federation/directory", s.handleDirectory)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil && !s.ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) parseHash(w http.ResponseWriter, r *http.Request) (types.Hash, bool) {
	h, err := types.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return types.Hash{}, false
	}
	return h, true
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	h, ok := s.parseHash(w, r)
	if !ok {
		return
	}
	if s.chunks.Has(h) {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := s.parseHash(w, r)
	if !ok {
		return
	}
	data, err := s.chunks.Get(h)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.cfg.MaxChunkSize > 0 && int64(len(data)) > s.cfg.MaxChunkSize {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleFindMissing(w http.ResponseWriter, r *http.Request) {
	var req FindMissingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var resp FindMissingResponse
	for _, h := range req.Hashes {
		if !s.chunks.Has(h) {
			resp.Missing = append(resp.Missing, h)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req BatchRequest
	if err := cbor.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var resp BatchResponse
	for _, h := range req.Hashes {
		data, err := s.chunks.Get(h)
		if err != nil {
			continue
		}
		resp.Chunks = append(resp.Chunks, BatchChunk{Hash: h, Data: data})
	}
	out, err := cbor.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	var resp DirectoryResponse
	if s.cfg.Directory != nil {
		resp.Peers = s.cfg.Directory()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
