package quantum

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		ok   bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero encoding", func(c *Config) { c.EncodingQubits = 0 }, false},
		{"negative auxiliary", func(c *Config) { c.AuxiliaryQubits = -1 }, false},
		{"zero precision", func(c *Config) { c.PrecisionQubits = 0 }, false},
		{"huge precision", func(c *Config) { c.PrecisionQubits = 60 }, false},
		{"bad mode", func(c *Config) { c.Mode = "annealing" }, false},
		{"circuit mode", func(c *Config) { c.Mode = ModeCircuit }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}

func TestDimensionMismatch(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	r := rand.New(rand.NewSource(1))

	_, err := e.Similarity(randomVector(r, 2048), randomVector(r, 512))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}

	var de *DimensionError
	if !errors.As(err, &de) {
		t.Fatal("expected *DimensionError")
	}
	if de.LenA != 2048 || de.LenB != 512 {
		t.Fatalf("unexpected lengths: %d, %d", de.LenA, de.LenB)
	}
}

func TestZeroNormDegenerate(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	zero := make([]float32, 64)
	other := randomVector(rand.New(rand.NewSource(2)), 64)

	for _, pair := range [][2][]float32{{zero, other}, {other, zero}, {zero, zero}} {
		bd, err := e.BreakdownOf(pair[0], pair[1])
		if err != nil {
			t.Fatalf("zero-norm input must not fail: %v", err)
		}
		if bd != (Breakdown{}) {
			t.Fatalf("expected all-zero breakdown, got %+v", bd)
		}
	}
}

func TestSymmetry(t *testing.T) {
	for _, cfg := range []Config{
		DefaultConfig(),
		{EncodingQubits: 4, AuxiliaryQubits: 2, PrecisionQubits: 5, Entanglement: true, Mode: ModeInspired},
		{EncodingQubits: 3, AuxiliaryQubits: 7, PrecisionQubits: 7, Mode: ModeCircuit},
	} {
		e := newEngine(t, cfg)
		r := rand.New(rand.NewSource(42))
		for i := 0; i < 25; i++ {
			a := randomVector(r, 128)
			b := randomVector(r, 128)
			sab, err := e.Similarity(a, b)
			if err != nil {
				t.Fatal(err)
			}
			sba, err := e.Similarity(b, a)
			if err != nil {
				t.Fatal(err)
			}
			if sab != sba {
				t.Fatalf("cfg %+v: sim(a,b)=%v != sim(b,a)=%v", cfg, sab, sba)
			}
		}
	}
}

func TestSelfSimilarityMaximal(t *testing.T) {
	for _, ent := range []bool{false, true} {
		cfg := DefaultConfig()
		cfg.Entanglement = ent
		e := newEngine(t, cfg)
		r := rand.New(rand.NewSource(7))

		a := randomVector(r, 256)
		self, err := e.Similarity(a, a)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(self-1) > 1e-9 {
			t.Fatalf("entanglement=%v: sim(a,a) = %v, want 1", ent, self)
		}
		for i := 0; i < 50; i++ {
			b := randomVector(r, 256)
			s, err := e.Similarity(a, b)
			if err != nil {
				t.Fatal(err)
			}
			if s > self {
				t.Fatalf("sim(a,b)=%v exceeds sim(a,a)=%v", s, self)
			}
		}
	}
}

func TestDeterminism(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	r := rand.New(rand.NewSource(11))
	a := randomVector(r, 512)
	b := randomVector(r, 512)

	first, err := e.BreakdownOf(a, b)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := e.BreakdownOf(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatalf("run %d: breakdown diverged: %+v vs %+v", i, again, first)
		}
	}
}

func TestBreakdownRanges(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	r := rand.New(rand.NewSource(13))
	for i := 0; i < 50; i++ {
		a := randomVector(r, 100)
		b := randomVector(r, 100)
		bd, err := e.BreakdownOf(a, b)
		if err != nil {
			t.Fatal(err)
		}
		for name, v := range map[string]float64{
			"classical_cosine":    bd.ClassicalCosine,
			"quantum_fidelity":    bd.QuantumFidelity,
			"phase_coherence":     bd.PhaseCoherence,
			"amplitude_estimated": bd.AmplitudeEstimated,
			"overall_similarity":  bd.Similarity,
		} {
			if v < 0 || v > 1 {
				t.Fatalf("%s = %v out of [0,1]", name, v)
			}
		}
	}
}

func TestAmplitudeQuantization(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrecisionQubits = 3 // 8 levels
	e := newEngine(t, cfg)
	r := rand.New(rand.NewSource(17))

	levels := 8.0
	for i := 0; i < 30; i++ {
		bd, err := e.BreakdownOf(randomVector(r, 64), randomVector(r, 64))
		if err != nil {
			t.Fatal(err)
		}
		scaled := bd.AmplitudeEstimated * levels
		if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
			t.Fatalf("amplitude_estimated %v is not on a 1/8 grid", bd.AmplitudeEstimated)
		}
		if math.Abs(bd.AmplitudeEstimated-bd.QuantumFidelity) > 0.5/levels+1e-9 {
			t.Fatalf("quantization moved fidelity too far: %v vs %v",
				bd.AmplitudeEstimated, bd.QuantumFidelity)
		}
	}
}

func TestCircuitModeUsesEstimate(t *testing.T) {
	base := DefaultConfig()
	base.PrecisionQubits = 2 // coarse grid so the modes visibly diverge

	inspired := newEngine(t, base)
	circuitCfg := base
	circuitCfg.Mode = ModeCircuit
	circuit := newEngine(t, circuitCfg)

	r := rand.New(rand.NewSource(19))
	diverged := false
	for i := 0; i < 50 && !diverged; i++ {
		a := randomVector(r, 64)
		b := randomVector(r, 64)
		bi, err := inspired.BreakdownOf(a, b)
		if err != nil {
			t.Fatal(err)
		}
		bc, err := circuit.BreakdownOf(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if bi.Similarity != bc.Similarity {
			diverged = true
		}
	}
	if !diverged {
		t.Fatal("circuit mode never diverged from inspired on a 4-level grid")
	}
}

func TestCircuitInfo(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	info := e.CircuitInfo()
	if info.TotalQubits != 3+7+7 {
		t.Fatalf("total qubits = %d, want 17", info.TotalQubits)
	}
	if info.Mode != "inspired" || info.Entanglement {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestEncodeStableGrouping(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	// Same vector padded into a longer dimension must not silently compare:
	// encoding depends only on the input length, and comparisons across
	// lengths are rejected before encoding.
	a := randomVector(rand.New(rand.NewSource(23)), 60) // not a multiple of 8
	bd, err := e.BreakdownOf(a, a)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(bd.QuantumFidelity-1) > 1e-9 {
		t.Fatalf("self fidelity with padded tail = %v, want 1", bd.QuantumFidelity)
	}
}
