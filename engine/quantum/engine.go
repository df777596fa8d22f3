// Package quantum implements the quantum-inspired similarity engine used to
// re-rank image search candidates. It blends a classical cosine score with a
// fidelity score computed over amplitude-encoded representations of the two
// feature vectors. The whole computation is deterministic: identical inputs
// and configuration always produce bit-identical breakdowns.
package quantum

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when the two vectors disagree in length.
var ErrDimensionMismatch = errors.New("quantum: dimension mismatch")

// DimensionError reports the offending lengths. Unwraps to ErrDimensionMismatch.
type DimensionError struct {
	LenA, LenB int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("quantum: dimension mismatch: %d vs %d", e.LenA, e.LenB)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// Blend weights for the combined score. Chosen so the fidelity term leads
// while the classical cosine anchors the ranking; they sum to 1, which keeps
// the combined score in [0,1] and makes sim(a,a) the attainable maximum.
const (
	weightClassical = 0.40
	weightFidelity  = 0.45
	weightCoherence = 0.15
)

// Breakdown is the per-pair diagnostic decomposition. Every field is in [0,1].
type Breakdown struct {
	ClassicalCosine    float64 `json:"classical_cosine"`
	QuantumFidelity    float64 `json:"quantum_fidelity"`
	PhaseCoherence     float64 `json:"phase_coherence"`
	AmplitudeEstimated float64 `json:"amplitude_estimated"`
	Combined           float64 `json:"combined"`
	Similarity         float64 `json:"overall_similarity"`
}

// Engine computes quantum-inspired similarity scores. It is stateless beyond
// its immutable configuration and safe for concurrent use.
type Engine struct {
	cfg        Config
	amplitudes int     // 2^EncodingQubits
	levels     float64 // 2^PrecisionQubits
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:        cfg,
		amplitudes: 1 << cfg.EncodingQubits,
		levels:     math.Pow(2, float64(cfg.PrecisionQubits)),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// CircuitInfo describes the configured register layout.
func (e *Engine) CircuitInfo() CircuitInfo {
	return CircuitInfo{
		EncodingQubits:  e.cfg.EncodingQubits,
		AuxiliaryQubits: e.cfg.AuxiliaryQubits,
		PrecisionQubits: e.cfg.PrecisionQubits,
		TotalQubits:     e.cfg.EncodingQubits + e.cfg.AuxiliaryQubits + e.cfg.PrecisionQubits,
		Entanglement:    e.cfg.Entanglement,
		Mode:            string(e.cfg.Mode),
	}
}

// Similarity returns the blended similarity of a and b in [0,1].
func (e *Engine) Similarity(a, b []float32) (float64, error) {
	bd, err := e.BreakdownOf(a, b)
	if err != nil {
		return 0, err
	}
	return bd.Similarity, nil
}

// BreakdownOf computes the full diagnostic decomposition for a and b.
// A zero-norm input does not fail: it yields the degenerate all-zero
// breakdown, so malformed vectors can never crash the search path.
func (e *Engine) BreakdownOf(a, b []float32) (Breakdown, error) {
	if len(a) != len(b) {
		return Breakdown{}, &DimensionError{LenA: len(a), LenB: len(b)}
	}
	if len(a) == 0 {
		return Breakdown{}, nil
	}

	na, oka := normalize(a)
	nb, okb := normalize(b)
	if !oka || !okb {
		return Breakdown{}, nil
	}

	classical := clip01(dot(na, nb))

	pa := e.encode(na)
	pb := e.encode(nb)
	if e.cfg.Entanglement {
		e.entangle(pa)
		e.entangle(pb)
	}

	overlap := dot(pa, pb)
	fidelity := clip01(overlap * overlap)
	coherence := phaseCoherence(pa, pb)
	estimated := e.quantize(fidelity)

	// ModeCircuit feeds the finite-precision estimate into the blend, the
	// way a real amplitude-estimation readout would. ModeInspired uses the
	// exact fidelity.
	fidelityTerm := fidelity
	if e.cfg.Mode == ModeCircuit {
		fidelityTerm = estimated
	}

	combined := weightClassical*classical + weightFidelity*fidelityTerm + weightCoherence*coherence

	return Breakdown{
		ClassicalCosine:    classical,
		QuantumFidelity:    fidelity,
		PhaseCoherence:     coherence,
		AmplitudeEstimated: estimated,
		Combined:           combined,
		Similarity:         clip01(combined),
	}, nil
}

// normalize returns the L2-normalized copy of v as float64. ok is false for
// zero-norm input.
func normalize(v []float32) ([]float64, bool) {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		f := float64(x)
		out[i] = f
		sum += f * f
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out, true
}

// encode folds the normalized vector into 2^encodingQubits amplitudes. Each
// amplitude is the signed L2 norm of one contiguous group of components
// (zero-padded tail), so the grouping is identical for query and stored
// vectors of the same dimension. The result is re-normalized to unit norm.
func (e *Engine) encode(v []float64) []float64 {
	m := e.amplitudes
	group := (len(v) + m - 1) / m
	amps := make([]float64, m)

	var total float64
	for i := 0; i < m; i++ {
		start := i * group
		if start >= len(v) {
			break
		}
		end := start + group
		if end > len(v) {
			end = len(v)
		}
		var sq, signed float64
		for _, x := range v[start:end] {
			sq += x * x
			signed += x
		}
		amp := math.Sqrt(sq)
		if signed < 0 {
			amp = -amp
		}
		amps[i] = amp
		total += sq
	}
	if total > 0 {
		norm := math.Sqrt(total)
		for i := range amps {
			amps[i] /= norm
		}
	}
	return amps
}

// entangle applies a fixed butterfly mixing transform across amplitude
// pairs. Each round is orthogonal (norm-preserving), so fidelity stays in
// [0,1]. The number of rounds is bounded by the register sizes; the same
// transform is applied to both vectors, which keeps the metric symmetric.
func (e *Engine) entangle(amps []float64) {
	rounds := e.cfg.AuxiliaryQubits
	if rounds > e.cfg.EncodingQubits {
		rounds = e.cfg.EncodingQubits
	}
	invSqrt2 := 1 / math.Sqrt2
	for r := 0; r < rounds; r++ {
		stride := len(amps) >> (r + 1)
		if stride == 0 {
			break
		}
		for i := 0; i+stride < len(amps); i++ {
			if i/stride%2 != 0 {
				continue
			}
			x, y := amps[i], amps[i+stride]
			amps[i] = (x + y) * invSqrt2
			amps[i+stride] = (x - y) * invSqrt2
		}
	}
}

// phaseCoherence measures sign agreement between corresponding amplitudes,
// weighted by their joint magnitude. 1 means every overlapping component
// pair agrees in sign; 0 means none do (or there is no overlap).
func phaseCoherence(a, b []float64) float64 {
	var agree, total float64
	for i := range a {
		w := math.Abs(a[i] * b[i])
		if w == 0 {
			continue
		}
		total += w
		if (a[i] >= 0) == (b[i] >= 0) {
			agree += w
		}
	}
	if total == 0 {
		return 0
	}
	return clip01(agree / total)
}

// quantize rounds f to the nearest of 2^precision discrete levels.
func (e *Engine) quantize(f float64) float64 {
	return math.Round(f*e.levels) / e.levels
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func clip01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
