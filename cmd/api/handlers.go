package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/quantumvision/quantum-image-search/engine/domain"
	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/ingest"
	"github.com/quantumvision/quantum-image-search/engine/retrieval"
	"github.com/quantumvision/quantum-image-search/pkg/config"
	"github.com/quantumvision/quantum-image-search/pkg/fn"
	"github.com/quantumvision/quantum-image-search/pkg/metrics"
	"github.com/quantumvision/quantum-image-search/pkg/mid"
	"github.com/quantumvision/quantum-image-search/pkg/resilience"
)

const version = "1.0.0"

// Per-route request budgets, per minute.
const (
	uploadPerMinute   = 20
	searchPerMinute   = 30
	quantumPerMinute  = 10
	detailedPerMinute = 10
)

// vectorIndex is the subset of the vector store the handlers need.
type vectorIndex interface {
	Upsert(ctx context.Context, records []index.Record) error
	Fetch(ctx context.Context, id string) (*index.Hit, error)
	Statistics(ctx context.Context) (index.Stats, error)
}

type server struct {
	cfg    *config.Config
	log    *slog.Logger
	idx    vectorIndex
	ext    ingest.Extractor
	blobs  ingest.BlobStore
	search *retrieval.Service
	reg    *metrics.Registry
}

func newServer(cfg *config.Config, log *slog.Logger, idx vectorIndex, ext ingest.Extractor,
	blobs ingest.BlobStore, search *retrieval.Service, reg *metrics.Registry) *server {
	return &server{cfg: cfg, log: log, idx: idx, ext: ext, blobs: blobs, search: search, reg: reg}
}

func (s *server) routes() http.Handler {
	perMinute := func(n int) mid.Middleware {
		return mid.RateLimit(resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  float64(n) / 60,
			Burst: n,
		}))
	}
	upload := func(h http.HandlerFunc) http.Handler {
		return mid.Chain(h, perMinute(uploadPerMinute), mid.MaxBody(domain.MaxImageBytes+1<<20))
	}
	query := func(n int, h http.HandlerFunc) http.Handler {
		return mid.Chain(h, perMinute(n), mid.MaxBody(domain.MaxImageBytes+1<<20))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/upload", upload(s.handleUpload))
	mux.Handle("POST /api/upload-and-store", upload(s.handleUploadAndStore))
	mux.Handle("POST /api/search", query(searchPerMinute, s.handleSearchVector))
	mux.Handle("POST /api/search-quantum", query(quantumPerMinute, s.handleSearchQuantum(false)))
	mux.Handle("POST /api/search-quantum-detailed", query(detailedPerMinute, s.handleSearchQuantum(true)))
	mux.HandleFunc("GET /api/image/{id}", s.handleImage)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

// --- Request plumbing ---

// queryInput is one parsed search/upload request.
type queryInput struct {
	data     []byte
	filename string
	topK     int
	minScore float64
	category string
}

// parseQuery reads the multipart image and the tunable search parameters.
func (s *server) parseQuery(r *http.Request) (queryInput, error) {
	in := queryInput{
		topK:     s.cfg.Search.TopK,
		minScore: s.cfg.Search.MinScore,
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return in, domain.NewValidationError("file", "", domain.ErrEmptyImage)
	}
	defer file.Close()

	in.data, err = io.ReadAll(file)
	if err != nil {
		return in, fmt.Errorf("read upload: %w", err)
	}
	in.filename = header.Filename
	in.category = r.FormValue("category")

	if v := r.FormValue("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return in, domain.NewValidationError("top_k", v, domain.ErrTopKOutOfRange)
		}
		in.topK = n
	}
	if v := r.FormValue("min_score"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return in, domain.NewValidationError("min_score", v, domain.ErrScoreOutOfRange)
		}
		in.minScore = f
	}

	if err := domain.ValidateFilename(in.filename); err != nil {
		return in, err
	}
	if err := domain.ValidateImage(in.data); err != nil {
		return in, err
	}
	if err := domain.ValidateSearch(in.topK, in.minScore, in.category); err != nil {
		return in, err
	}
	return in, nil
}

func (s *server) options(in queryInput, mode retrieval.Mode) retrieval.Options {
	return retrieval.Options{
		Mode:          mode,
		TopK:          in.topK,
		CandidatePool: s.cfg.Search.CandidatePool,
		MinScore:      float32(in.minScore),
		Category:      in.category,
	}
}

// matchResponse is one ranked result on the wire, a Match plus the
// human-readable confidence bucket.
type matchResponse struct {
	retrieval.Match
	Confidence string `json:"confidence"`
}

type searchResponse struct {
	Matches    []matchResponse `json:"similar_images"`
	Method     retrieval.Mode  `json:"method"`
	Candidates int             `json:"candidates_evaluated"`
	Query      queryEcho       `json:"query"`
	StoredID   string          `json:"stored_id,omitempty"`
	StoredURL  string          `json:"stored_url,omitempty"`
}

// vectorSearchResponse carries no query echo: a raw-vector request has no
// filename or tunables to echo back.
type vectorSearchResponse struct {
	Matches    []matchResponse `json:"similar_images"`
	Method     retrieval.Mode  `json:"method"`
	Candidates int             `json:"candidates_evaluated"`
}

type queryEcho struct {
	Filename string  `json:"filename"`
	Category string  `json:"category,omitempty"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

func toResponse(in queryInput, res retrieval.Result) searchResponse {
	return searchResponse{
		Matches: fn.Map(res.Matches, func(m retrieval.Match) matchResponse {
			return matchResponse{Match: m, Confidence: retrieval.Confidence(m.Score)}
		}),
		Method:     res.Method,
		Candidates: res.Candidates,
		Query: queryEcho{
			Filename: in.filename,
			Category: in.category,
			TopK:     in.topK,
			MinScore: in.minScore,
		},
	}
}

// --- Handlers ---

// handleSearchVector serves search by a raw feature vector: the request body
// is the JSON array of features, and extraction is skipped entirely.
func (s *server) handleSearchVector(w http.ResponseWriter, r *http.Request) {
	s.reg.Counter(metrics.WithLabels("http_requests_total", "route", "/api/search"), "Requests by route.").Inc()
	start := time.Now()

	var features []float32
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		s.writeErr(w, domain.NewValidationError("features", "", domain.ErrBadFeatureVector))
		return
	}
	if err := domain.ValidateFeatureVector(features, s.cfg.Extractor.Dimension); err != nil {
		s.writeErr(w, err)
		return
	}

	res, err := s.search.Search(r.Context(), features, retrieval.Options{
		Mode:          retrieval.ModeClassical,
		TopK:          s.cfg.Search.TopK,
		CandidatePool: s.cfg.Search.CandidatePool,
		MinScore:      float32(retrieval.ThresholdModerate),
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}

	s.reg.Histogram(metrics.WithLabels("search_seconds", "route", "/api/search"), "Search latency.", nil).Since(start)
	writeJSON(w, http.StatusOK, vectorSearchResponse{
		Matches: fn.Map(res.Matches, func(m retrieval.Match) matchResponse {
			return matchResponse{Match: m, Confidence: retrieval.Confidence(m.Score)}
		}),
		Method:     res.Method,
		Candidates: res.Candidates,
	})
}

// handleSearchQuantum serves the two image-query quantum endpoints, with or
// without the per-candidate breakdown.
func (s *server) handleSearchQuantum(detailed bool) http.HandlerFunc {
	route := "/api/search-quantum"
	if detailed {
		route = "/api/search-quantum-detailed"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		s.reg.Counter(metrics.WithLabels("http_requests_total", "route", route), "Requests by route.").Inc()
		start := time.Now()

		in, err := s.parseQuery(r)
		if err != nil {
			s.writeErr(w, err)
			return
		}

		vector, err := s.ext.ExtractFeatures(r.Context(), in.data)
		if err != nil {
			s.log.Error("feature extraction failed", "err", err)
			s.writeErr(w, fmt.Errorf("extract features: %w", err))
			return
		}

		var res retrieval.Result
		if detailed {
			res, err = s.search.SearchDetailed(r.Context(), vector, s.options(in, retrieval.ModeQuantum))
		} else {
			res, err = s.search.Search(r.Context(), vector, s.options(in, retrieval.ModeQuantum))
		}
		if err != nil {
			s.writeErr(w, err)
			return
		}

		s.reg.Histogram(metrics.WithLabels("search_seconds", "route", route), "Search latency.", nil).Since(start)
		writeJSON(w, http.StatusOK, toResponse(in, res))
	}
}

// handleUpload runs a one-shot similarity query without persisting the image.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.reg.Counter(metrics.WithLabels("http_requests_total", "route", "/api/upload"), "Requests by route.").Inc()

	in, err := s.parseQuery(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	vector, err := s.ext.ExtractFeatures(r.Context(), in.data)
	if err != nil {
		s.log.Error("feature extraction failed", "err", err)
		s.writeErr(w, fmt.Errorf("extract features: %w", err))
		return
	}
	res, err := s.search.Search(r.Context(), vector, s.options(in, retrieval.ModeClassical))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(in, res))
}

// handleUploadAndStore persists the image (blob + vector) and then searches
// for similar images, excluding the image itself from the results.
func (s *server) handleUploadAndStore(w http.ResponseWriter, r *http.Request) {
	s.reg.Counter(metrics.WithLabels("http_requests_total", "route", "/api/upload-and-store"), "Requests by route.").Inc()

	in, err := s.parseQuery(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if in.category == "" {
		s.writeErr(w, domain.NewValidationError("category", "", domain.ErrUnknownCategory))
		return
	}

	vector, err := s.ext.ExtractFeatures(r.Context(), in.data)
	if err != nil {
		s.log.Error("feature extraction failed", "err", err)
		s.writeErr(w, fmt.Errorf("extract features: %w", err))
		return
	}

	blobID, blobURL, err := s.blobs.Upload(r.Context(), in.data, in.filename, in.category)
	if err != nil {
		s.log.Error("blob upload failed", "err", err)
		s.writeErr(w, fmt.Errorf("blob upload: %w", err))
		return
	}

	stem := ingest.Stem(in.filename)
	id := ingest.VectorID(in.category, "", stem)
	record := index.Record{
		ID:     id,
		Vector: vector,
		Payload: map[string]any{
			"filename":    in.filename,
			"category":    in.category,
			"blob_id":     blobID,
			"blob_url":    blobURL,
			"source_id":   ingest.SourceID(in.category, "", stem),
			"uploaded_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.idx.Upsert(r.Context(), []index.Record{record}); err != nil {
		s.log.Error("upsert failed", "err", err)
		s.writeErr(w, fmt.Errorf("index upsert: %w", err))
		return
	}

	opts := s.options(in, retrieval.ModeClassical)
	opts.ExcludeID = id
	res, err := s.search.Search(r.Context(), vector, opts)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	resp := toResponse(in, res)
	resp.StoredID = id
	resp.StoredURL = blobURL
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hit, err := s.idx.Fetch(r.Context(), id)
	if err != nil {
		s.writeErr(w, fmt.Errorf("fetch: %w", err))
		return
	}
	if hit == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "image not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        hit.ID,
		"filename":  hit.Filename,
		"category":  hit.Category,
		"image_url": hit.BlobURL,
		"metadata":  hit.Meta,
	})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.idx.Statistics(r.Context())
	if err != nil {
		s.writeErr(w, fmt.Errorf("statistics: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collection":      s.cfg.Index.Collection,
		"total_vectors":   stats.TotalVectors,
		"quantum_enabled": s.search.QuantumEnabled(),
	})
}

func (s *server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": domain.Describe()})
}

func (s *server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"service":         "quantum-image-search",
		"version":         version,
		"quantum_enabled": s.search.QuantumEnabled(),
		"similarity_thresholds": map[string]float64{
			"very_high":       retrieval.ThresholdVeryHigh,
			"high":            retrieval.ThresholdHigh,
			"moderate":        retrieval.ThresholdModerate,
			"candidate_floor": retrieval.DefaultMinScore,
		},
	}
	if circuit, err := s.search.CircuitInfo(); err == nil {
		info["circuit"] = circuit
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"quantum_enabled": s.search.QuantumEnabled(),
	})
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps an error to its HTTP status and writes the JSON error body.
func (s *server) writeErr(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, retrieval.ErrQuantumDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
