// Package retrieval orchestrates two-stage image search: a coarse k-NN pass
// against the vector index, then an optional quantum-inspired re-ranking of
// the candidate pool.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/quantum"
	"github.com/quantumvision/quantum-image-search/pkg/fn"
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeClassical Mode = "classical"
	ModeQuantum   Mode = "quantum-enhanced"
)

// ErrQuantumDisabled is returned by operations that require the quantum
// engine when the service was built without one.
var ErrQuantumDisabled = errors.New("retrieval: quantum engine disabled")

// Default pool sizing, mirroring the production thresholds.
const (
	DefaultTopK          = 10
	DefaultCandidatePool = 50
	DefaultMinScore      = 0.70
)

// Confidence buckets for reporting a final similarity score.
const (
	ThresholdVeryHigh = 0.95
	ThresholdHigh     = 0.85
	ThresholdModerate = 0.80
)

// Confidence maps a score to its reporting bucket.
func Confidence(score float64) string {
	switch {
	case score >= ThresholdVeryHigh:
		return "very_high"
	case score >= ThresholdHigh:
		return "high"
	case score >= ThresholdModerate:
		return "moderate"
	default:
		return "low"
	}
}

// Searcher abstracts the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, params index.SearchParams) ([]index.Hit, error)
}

// Scorer abstracts the quantum similarity engine.
type Scorer interface {
	Similarity(a, b []float32) (float64, error)
	BreakdownOf(a, b []float32) (quantum.Breakdown, error)
	CircuitInfo() quantum.CircuitInfo
}

// Options tunes a single search call.
type Options struct {
	Mode          Mode
	TopK          int
	CandidatePool int     // stage-1 fetch size; clamped to >= TopK
	MinScore      float32 // stage-1 score floor
	Category      string  // optional metadata filter
	ExcludeID     string  // removed after ranking, e.g. the just-stored query image
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeClassical
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.CandidatePool < o.TopK {
		o.CandidatePool = o.TopK
	}
}

// Match is one ranked result.
type Match struct {
	ID             string  `json:"id"`
	Filename       string  `json:"filename"`
	Category       string  `json:"category"`
	ImageURL       string  `json:"image_url"`
	Score          float64 `json:"similarity"`
	ClassicalScore float64 `json:"classical_similarity"`
	QuantumBoost   float64 `json:"quantum_boost"`
	// ClassicalOnly marks candidates whose raw vector was unavailable and
	// which therefore kept their stage-1 score.
	ClassicalOnly bool `json:"classical_only,omitempty"`

	// Breakdown is populated by SearchDetailed only.
	Breakdown *quantum.Breakdown `json:"metrics,omitempty"`
}

// Result is the outcome of one search call.
type Result struct {
	Matches    []Match `json:"similar_images"`
	Method     Mode    `json:"method"`
	Candidates int     `json:"candidates_evaluated"`
}

// Service performs two-stage search. It is stateless and safe for concurrent
// use; the quantum engine is optional and nil means quantum modes degrade to
// classical ranking.
type Service struct {
	search Searcher
	scorer Scorer
	logger *slog.Logger
}

// New builds a retrieval service. scorer may be nil to disable re-ranking.
func New(search Searcher, scorer Scorer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{search: search, scorer: scorer, logger: logger}
}

// QuantumEnabled reports whether a quantum engine is wired in.
func (s *Service) QuantumEnabled() bool { return s.scorer != nil }

// CircuitInfo returns the engine register layout, or an error when disabled.
func (s *Service) CircuitInfo() (quantum.CircuitInfo, error) {
	if s.scorer == nil {
		return quantum.CircuitInfo{}, ErrQuantumDisabled
	}
	return s.scorer.CircuitInfo(), nil
}

// Search runs the two-stage pipeline for the query vector.
func (s *Service) Search(ctx context.Context, query []float32, opts Options) (Result, error) {
	opts.applyDefaults()

	wantVectors := opts.Mode == ModeQuantum && s.scorer != nil
	hits, err := s.search.Search(ctx, query, index.SearchParams{
		TopK:        opts.CandidatePool,
		MinScore:    opts.MinScore,
		Category:    opts.Category,
		WithVectors: wantVectors,
	})
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: candidate fetch: %w", err)
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		matches[i] = Match{
			ID:             h.ID,
			Filename:       h.Filename,
			Category:       h.Category,
			ImageURL:       h.BlobURL,
			Score:          float64(h.Score),
			ClassicalScore: float64(h.Score),
		}
	}

	method := ModeClassical
	if wantVectors {
		s.rerank(query, hits, matches)
		sortMatches(matches)
		method = ModeQuantum
	}

	return Result{
		Matches:    finalize(matches, opts),
		Method:     method,
		Candidates: len(hits),
	}, nil
}

// SearchDetailed is Search with the full per-candidate breakdown attached.
// Unlike Search it requires the quantum engine.
func (s *Service) SearchDetailed(ctx context.Context, query []float32, opts Options) (Result, error) {
	if s.scorer == nil {
		return Result{}, ErrQuantumDisabled
	}
	opts.Mode = ModeQuantum
	opts.applyDefaults()

	hits, err := s.search.Search(ctx, query, index.SearchParams{
		TopK:        opts.CandidatePool,
		MinScore:    opts.MinScore,
		Category:    opts.Category,
		WithVectors: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("retrieval: candidate fetch: %w", err)
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		m := Match{
			ID:             h.ID,
			Filename:       h.Filename,
			Category:       h.Category,
			ImageURL:       h.BlobURL,
			Score:          float64(h.Score),
			ClassicalScore: float64(h.Score),
		}
		if len(h.Vector) > 0 {
			bd, err := s.scorer.BreakdownOf(query, h.Vector)
			if err != nil {
				s.logger.Warn("breakdown failed, keeping classical score", "id", h.ID, "err", err)
				m.ClassicalOnly = true
			} else {
				b := bd
				m.Breakdown = &b
				m.Score = bd.Similarity
				m.QuantumBoost = bd.Similarity - m.ClassicalScore
			}
		} else {
			m.ClassicalOnly = true
		}
		matches[i] = m
	}
	sortMatches(matches)

	return Result{
		Matches:    finalize(matches, opts),
		Method:     ModeQuantum,
		Candidates: len(hits),
	}, nil
}

// rerankWorkers bounds concurrent similarity computations per request.
const rerankWorkers = 8

// rerank scores every candidate with a retrievable vector against the query.
// Candidates without a vector, and candidates whose scoring fails (e.g. a
// dimension mismatch on a single stale record), keep their classical score
// and are flagged, never dropped. Scoring is CPU-bound and independent per
// candidate, so the pool is fanned out over a bounded worker set.
func (s *Service) rerank(query []float32, hits []index.Hit, matches []Match) {
	idx := make([]int, len(hits))
	for i := range idx {
		idx[i] = i
	}
	fn.ParMap(idx, rerankWorkers, func(i int) struct{} {
		h := hits[i]
		if len(h.Vector) == 0 {
			matches[i].ClassicalOnly = true
			return struct{}{}
		}
		sim, err := s.scorer.Similarity(query, h.Vector)
		if err != nil {
			s.logger.Warn("quantum scoring failed, keeping classical score", "id", h.ID, "err", err)
			matches[i].ClassicalOnly = true
			return struct{}{}
		}
		matches[i].Score = sim
		matches[i].QuantumBoost = sim - matches[i].ClassicalScore
		return struct{}{}
	})
}

// sortMatches orders by final score desc, then classical score desc, then ID
// asc. The tie-break makes the ordering total and therefore reproducible.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ClassicalScore != b.ClassicalScore {
			return a.ClassicalScore > b.ClassicalScore
		}
		return a.ID < b.ID
	})
}

// finalize removes the excluded ID without disturbing relative order, then
// truncates to TopK.
func finalize(matches []Match, opts Options) []Match {
	if opts.ExcludeID != "" {
		kept := matches[:0]
		for _, m := range matches {
			if m.ID != opts.ExcludeID {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches
}
