package emission

import (
	"fmt"
	"math"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/score"
)

const (
	// Dimension of an observation (one bin per pitch class)
	Dimension = 12
	// NumSymbols is silence plus the 12 pitch classes
	NumSymbols = 13
)

// Symbol indexes the emission Gaussians: 0 is silence, 1+pc a pitch class
type Symbol int

const Silence Symbol = 0

// SymbolOf maps a score pitch to its emission symbol
func SymbolOf(p score.Pitch) Symbol {
	if p.IsRest() {
		return Silence
	}
	return Symbol(int(p) + 1)
}

// Pitch maps a symbol back to the score pitch
func (s Symbol) Pitch() score.Pitch {
	if s == Silence {
		return score.Rest
	}
	return score.Pitch(int(s) - 1)
}

func (s Symbol) String() string {
	if s == Silence {
		return "silence"
	}
	return s.Pitch().String()
}

// Gaussian is a diagonal Gaussian over the 12 chroma bins
type Gaussian struct {
	Mean     []float64 `json:"mean"`
	Variance []float64 `json:"variance"`
}

// Params holds one Gaussian per symbol for a given instrument timbre
type Params struct {
	Instrument string
	Symbols    [NumSymbols]Gaussian
}

// Validate checks dimensions and that every variance is strictly positive
func (p *Params) Validate() error {
	for k, g := range p.Symbols {
		sym := Symbol(k)
		if len(g.Mean) != Dimension {
			return config.Errorf("emission", "mean of %s has %d entries, expected %d", sym, len(g.Mean), Dimension)
		}
		if len(g.Variance) != Dimension {
			return config.Errorf("emission", "variance of %s has %d entries, expected %d", sym, len(g.Variance), Dimension)
		}
		for d := 0; d < Dimension; d++ {
			if math.IsNaN(g.Mean[d]) || math.IsInf(g.Mean[d], 0) {
				return config.Errorf("emission", "mean of %s is not finite at bin %d", sym, d)
			}
			if !(g.Variance[d] > 0) || math.IsInf(g.Variance[d], 0) {
				return config.Errorf("emission", "variance of %s must be positive at bin %d, got %g", sym, d, g.Variance[d])
			}
		}
	}
	return nil
}

// Mean returns a copy of the mean vector of symbol k
func (p *Params) Mean(k Symbol) ([]float64, error) {
	if k < 0 || int(k) >= NumSymbols {
		return nil, fmt.Errorf("symbol %d out of range", int(k))
	}
	return append([]float64(nil), p.Symbols[k].Mean...), nil
}

// TemplateParams builds idealised chroma templates: each pitch class is a
// one-hot vector scaled by peak, silence is the zero vector, and every bin
// shares the same variance. Useful when no calibration recording exists.
func TemplateParams(peak, variance float64) *Params {
	p := &Params{Instrument: "template"}
	for k := 0; k < NumSymbols; k++ {
		mean := make([]float64, Dimension)
		v := make([]float64, Dimension)
		for d := range v {
			v[d] = variance
		}
		if k > 0 {
			mean[k-1] = peak
		}
		p.Symbols[k] = Gaussian{Mean: mean, Variance: v}
	}
	return p
}
