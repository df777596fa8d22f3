package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/quantum"
)

type stubSearcher struct {
	hits   []index.Hit
	err    error
	params index.SearchParams
}

func (s *stubSearcher) Search(_ context.Context, _ []float32, params index.SearchParams) ([]index.Hit, error) {
	s.params = params
	return s.hits, s.err
}

func testEngine(t *testing.T) *quantum.Engine {
	t.Helper()
	e, err := quantum.New(quantum.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func pool(r *rand.Rand, n, dim int) []index.Hit {
	hits := make([]index.Hit, n)
	for i := range hits {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = r.Float32()
		}
		hits[i] = index.Hit{
			ID:       fmt.Sprintf("img-%03d", i),
			Score:    1 - float32(i)*0.005,
			Vector:   vec,
			Filename: fmt.Sprintf("img-%03d.jpg", i),
			Category: "healthcare",
		}
	}
	return hits
}

func TestClassicalModePreservesStageOneOrder(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	searcher := &stubSearcher{hits: pool(r, 20, 32)}
	svc := New(searcher, testEngine(t), nil)

	res, err := svc.Search(context.Background(), make([]float32, 32), Options{
		Mode: ModeClassical, TopK: 5, CandidatePool: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != ModeClassical {
		t.Fatalf("method = %v", res.Method)
	}
	if len(res.Matches) != 5 {
		t.Fatalf("matches = %d", len(res.Matches))
	}
	for i, m := range res.Matches {
		if m.ID != fmt.Sprintf("img-%03d", i) {
			t.Fatalf("order changed in classical mode: %v at %d", m.ID, i)
		}
	}
	if searcher.params.WithVectors {
		t.Fatal("classical mode must not request vectors")
	}
}

func TestQuantumRerankIsSubsetOfPool(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	hits := pool(r, 50, 64)
	searcher := &stubSearcher{hits: hits}
	svc := New(searcher, testEngine(t), nil)

	query := make([]float32, 64)
	for i := range query {
		query[i] = r.Float32()
	}

	res, err := svc.Search(context.Background(), query, Options{
		Mode: ModeQuantum, TopK: 10, CandidatePool: 50, MinScore: 0.70,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != ModeQuantum {
		t.Fatalf("method = %v", res.Method)
	}
	if res.Candidates != 50 {
		t.Fatalf("candidates = %d", res.Candidates)
	}
	if len(res.Matches) != 10 {
		t.Fatalf("matches = %d", len(res.Matches))
	}

	known := make(map[string]bool, len(hits))
	for _, h := range hits {
		known[h.ID] = true
	}
	for _, m := range res.Matches {
		if !known[m.ID] {
			t.Fatalf("foreign id %q in results", m.ID)
		}
	}
	for i := 1; i < len(res.Matches); i++ {
		if res.Matches[i].Score > res.Matches[i-1].Score {
			t.Fatalf("not sorted descending at %d", i)
		}
	}
	if !searcher.params.WithVectors {
		t.Fatal("quantum mode must request vectors")
	}
}

func TestTieBreakByClassicalThenID(t *testing.T) {
	matches := []Match{
		{ID: "c", Score: 0.9, ClassicalScore: 0.5},
		{ID: "a", Score: 0.9, ClassicalScore: 0.5},
		{ID: "b", Score: 0.9, ClassicalScore: 0.7},
		{ID: "d", Score: 0.95, ClassicalScore: 0.1},
	}
	sortMatches(matches)

	want := []string{"d", "b", "a", "c"}
	for i, id := range want {
		if matches[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, matches[i].ID, id)
		}
	}
}

func TestMissingVectorKeepsClassicalScore(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	hits := pool(r, 5, 16)
	hits[2].Vector = nil
	searcher := &stubSearcher{hits: hits}
	svc := New(searcher, testEngine(t), nil)

	res, err := svc.Search(context.Background(), make([]float32, 16), Options{
		Mode: ModeQuantum, TopK: 5, CandidatePool: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) != 5 {
		t.Fatalf("flagged candidate was dropped: %d matches", len(res.Matches))
	}
	found := false
	for _, m := range res.Matches {
		if m.ID == "img-002" {
			found = true
			if !m.ClassicalOnly {
				t.Fatal("candidate without vector must be flagged")
			}
			if m.Score != m.ClassicalScore {
				t.Fatal("candidate without vector must keep classical score")
			}
		}
	}
	if !found {
		t.Fatal("candidate without vector missing from results")
	}
}

func TestDimensionMismatchFallsBackPerCandidate(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	hits := pool(r, 4, 32)
	hits[1].Vector = make([]float32, 16) // stale record with wrong dimension
	for i := range hits[1].Vector {
		hits[1].Vector[i] = r.Float32()
	}
	searcher := &stubSearcher{hits: hits}
	svc := New(searcher, testEngine(t), nil)

	query := make([]float32, 32)
	for i := range query {
		query[i] = r.Float32()
	}
	res, err := svc.Search(context.Background(), query, Options{Mode: ModeQuantum, TopK: 4})
	if err != nil {
		t.Fatalf("one bad candidate must not fail the search: %v", err)
	}
	for _, m := range res.Matches {
		if m.ID == "img-001" && !m.ClassicalOnly {
			t.Fatal("mismatched candidate must be flagged")
		}
	}
}

func TestExcludeIDNeverShrinksBelowTopK(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	hits := pool(r, 11, 16) // topK+1 distinct ids
	searcher := &stubSearcher{hits: hits}
	svc := New(searcher, testEngine(t), nil)

	res, err := svc.Search(context.Background(), make([]float32, 16), Options{
		Mode: ModeClassical, TopK: 10, CandidatePool: 11, ExcludeID: "img-000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matches) < 10 {
		t.Fatalf("got %d matches, want >= 10", len(res.Matches))
	}
	for _, m := range res.Matches {
		if m.ID == "img-000" {
			t.Fatal("excluded id present")
		}
	}
}

func TestCandidatePoolClampedToTopK(t *testing.T) {
	searcher := &stubSearcher{}
	svc := New(searcher, nil, nil)

	_, err := svc.Search(context.Background(), []float32{1}, Options{TopK: 10, CandidatePool: 3})
	if err != nil {
		t.Fatal(err)
	}
	if searcher.params.TopK != 10 {
		t.Fatalf("pool = %d, want clamp to 10", searcher.params.TopK)
	}
}

func TestQuantumModeWithoutEngineDegradesToClassical(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	searcher := &stubSearcher{hits: pool(r, 5, 8)}
	svc := New(searcher, nil, nil)

	res, err := svc.Search(context.Background(), make([]float32, 8), Options{Mode: ModeQuantum, TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != ModeClassical {
		t.Fatalf("method = %v, want classical fallback", res.Method)
	}
	if svc.QuantumEnabled() {
		t.Fatal("QuantumEnabled must be false")
	}
	if _, err := svc.CircuitInfo(); !errors.Is(err, ErrQuantumDisabled) {
		t.Fatalf("CircuitInfo err = %v", err)
	}
}

func TestSearchDetailed(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	hits := pool(r, 20, 64)
	hits[4].Vector = nil
	searcher := &stubSearcher{hits: hits}
	svc := New(searcher, testEngine(t), nil)

	query := make([]float32, 64)
	for i := range query {
		query[i] = r.Float32()
	}
	res, err := svc.SearchDetailed(context.Background(), query, Options{TopK: 10, CandidatePool: 20})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range res.Matches {
		if m.ID == "img-004" {
			if m.Breakdown != nil || !m.ClassicalOnly {
				t.Fatal("vectorless candidate must have no breakdown and be flagged")
			}
			continue
		}
		if m.Breakdown == nil {
			t.Fatalf("missing breakdown for %s", m.ID)
		}
		if m.Breakdown.Similarity != m.Score {
			t.Fatalf("score %v != breakdown similarity %v", m.Score, m.Breakdown.Similarity)
		}
	}
}

func TestSearchDetailedRequiresEngine(t *testing.T) {
	svc := New(&stubSearcher{}, nil, nil)
	if _, err := svc.SearchDetailed(context.Background(), []float32{1}, Options{}); !errors.Is(err, ErrQuantumDisabled) {
		t.Fatalf("err = %v, want ErrQuantumDisabled", err)
	}
}

func TestSearcherErrorPropagates(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("index unavailable")}
	svc := New(searcher, nil, nil)
	if _, err := svc.Search(context.Background(), []float32{1}, Options{}); err == nil {
		t.Fatal("expected error")
	}
}
