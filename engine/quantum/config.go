package quantum

import (
	"errors"
	"fmt"
)

// Mode selects how the fidelity term is produced.
type Mode string

const (
	// ModeInspired computes the exact amplitude-encoded fidelity.
	ModeInspired Mode = "inspired"
	// ModeCircuit models a simulated amplitude-estimation circuit: the
	// fidelity term is quantized to 2^precision discrete levels.
	ModeCircuit Mode = "circuit"
)

// ErrInvalidConfig is returned when qubit counts or the mode are invalid.
var ErrInvalidConfig = errors.New("invalid quantum config")

// Config describes the similarity engine. It is fixed for the process
// lifetime; the engine never mutates it after New.
type Config struct {
	EncodingQubits  int  `yaml:"encoding_qubits"`
	AuxiliaryQubits int  `yaml:"auxiliary_qubits"`
	PrecisionQubits int  `yaml:"precision_qubits"`
	Entanglement    bool `yaml:"entanglement"`
	Mode            Mode `yaml:"mode"`
}

// DefaultConfig mirrors the production deployment defaults.
func DefaultConfig() Config {
	return Config{
		EncodingQubits:  3,
		AuxiliaryQubits: 7,
		PrecisionQubits: 7,
		Entanglement:    false,
		Mode:            ModeInspired,
	}
}

// Validate checks qubit counts and mode.
func (c Config) Validate() error {
	if c.EncodingQubits <= 0 {
		return fmt.Errorf("%w: encoding qubits %d", ErrInvalidConfig, c.EncodingQubits)
	}
	if c.AuxiliaryQubits <= 0 {
		return fmt.Errorf("%w: auxiliary qubits %d", ErrInvalidConfig, c.AuxiliaryQubits)
	}
	if c.PrecisionQubits <= 0 {
		return fmt.Errorf("%w: precision qubits %d", ErrInvalidConfig, c.PrecisionQubits)
	}
	// Precision beyond 52 bits exceeds float64 mantissa resolution and the
	// quantization step becomes a no-op in a lossy way.
	if c.PrecisionQubits > 52 {
		return fmt.Errorf("%w: precision qubits %d exceeds 52", ErrInvalidConfig, c.PrecisionQubits)
	}
	switch c.Mode {
	case ModeInspired, ModeCircuit:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// CircuitInfo summarises the configured register layout.
type CircuitInfo struct {
	EncodingQubits  int    `json:"encoding_qubits"`
	AuxiliaryQubits int    `json:"auxiliary_qubits"`
	PrecisionQubits int    `json:"precision_qubits"`
	TotalQubits     int    `json:"total_qubits"`
	Entanglement    bool   `json:"entanglement_enabled"`
	Mode            string `json:"mode"`
}
