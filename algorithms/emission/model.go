package emission

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

// ErrObservationSize is returned for observations that are not 12-dimensional
var ErrObservationSize = errors.New("observation must have 12 chroma bins")

var log2Pi = math.Log(2 * math.Pi)

// Model evaluates observation likelihoods for every HMM state of a score.
// Per frame it evaluates the 13 densities once, mixes them once per
// expected symbol and then fills the state vector by lookup.
// A Model keeps scratch buffers and must not be shared between goroutines.
type Model struct {
	cfg       config.EmissionConfig
	params    *Params
	n         int
	subStates int

	// expected symbol per position, the pause (index n) expects silence
	expected []Symbol
	weights  [NumSymbols][NumSymbols]float64

	mean      [NumSymbols]*mat.VecDense
	precision [NumSymbols]*mat.DiagDense
	logNorm   [NumSymbols]float64

	diff      *mat.VecDense
	densities [NumSymbols]float64
	mixtures  [NumSymbols]float64
	pause     float64

	clipped int
	logger  logging.Logger
}

// NewModel caches precision and log-determinant for every symbol
func NewModel(params *Params, s *score.Score, subStates int, cfg config.EmissionConfig) (*Model, error) {
	if params == nil || s == nil {
		return nil, config.Errorf("emission", "parameters and score are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if subStates != 1 && subStates != 2 {
		return nil, config.Errorf("emission", "sub-states must be 1 or 2, got %d", subStates)
	}

	m := &Model{
		cfg:       cfg,
		params:    params,
		n:         s.N(),
		subStates: subStates,
		expected:  make([]Symbol, s.N()+1),
		weights:   WeightTable(cfg),
		diff:      mat.NewVecDense(Dimension, nil),
		logger: logging.WithFields(logging.Fields{
			"component": "emission",
		}),
	}

	for i := 0; i < m.n; i++ {
		m.expected[i] = SymbolOf(s.Pitch(i))
	}
	m.expected[m.n] = Silence

	for k, g := range params.Symbols {
		inv := make([]float64, Dimension)
		logDet := 0.0
		for d, v := range g.Variance {
			inv[d] = 1 / v
			logDet += math.Log(v)
		}
		m.mean[k] = mat.NewVecDense(Dimension, append([]float64(nil), g.Mean...))
		m.precision[k] = mat.NewDiagDense(Dimension, inv)
		m.logNorm[k] = -0.5 * (Dimension*log2Pi + logDet)
	}

	return m, nil
}

// Positions is N, the number of score positions
func (m *Model) Positions() int { return m.n }

// SubStates is L
func (m *Model) SubStates() int { return m.subStates }

// Expected returns the symbol expected at position i
func (m *Model) Expected(i int) Symbol {
	if i < 0 || i > m.n {
		return Silence
	}
	return m.expected[i]
}

// Clipped counts densities and mixtures clipped since the model was created
func (m *Model) Clipped() int { return m.clipped }

// Mean returns the mean vector of symbol k
func (m *Model) Mean(k Symbol) ([]float64, error) {
	return m.params.Mean(k)
}

// RawDensity is the unclipped Gaussian density of symbol k at obs
func (m *Model) RawDensity(k Symbol, obs []float64) (float64, error) {
	if len(obs) != Dimension {
		return 0, ErrObservationSize
	}
	if k < 0 || int(k) >= NumSymbols {
		return 0, fmt.Errorf("symbol %d out of range", int(k))
	}
	return m.rawDensity(k, mat.NewVecDense(Dimension, obs)), nil
}

func (m *Model) rawDensity(k Symbol, x *mat.VecDense) float64 {
	m.diff.SubVec(x, m.mean[k])
	q := mat.Inner(m.diff, m.precision[k], m.diff)
	return math.Exp(m.logNorm[k] - 0.5*q)
}

// Density is the Gaussian density of symbol k clipped to MaxDensity
func (m *Model) Density(k Symbol, obs []float64) (float64, error) {
	p, err := m.RawDensity(k, obs)
	if err != nil {
		return 0, err
	}
	return math.Min(p, m.cfg.MaxDensity), nil
}

// prepare evaluates the 13 densities and the 13 mixtures for one frame
func (m *Model) prepare(obs []float64) error {
	if len(obs) != Dimension {
		return ErrObservationSize
	}
	x := mat.NewVecDense(Dimension, obs)

	clipped := 0
	for k := 0; k < NumSymbols; k++ {
		p := m.rawDensity(Symbol(k), x)
		if math.IsNaN(p) {
			p = 0
		}
		if p > m.cfg.MaxDensity {
			p = m.cfg.MaxDensity
			clipped++
		}
		m.densities[k] = p
	}

	for expected := 0; expected < NumSymbols; expected++ {
		sum := 0.0
		for k, w := range m.weights[expected] {
			if w != 0 {
				sum += w * m.densities[k]
			}
		}
		// neighbour weights can push the mixture past a single clipped density
		if sum > m.cfg.MaxDensity {
			sum = m.cfg.MaxDensity
			clipped++
		}
		m.mixtures[expected] = sum
	}

	// the pause state only ever sees a heavily clipped silence density
	m.pause = m.weights[Silence][Silence] * math.Min(m.densities[Silence], m.cfg.PauseMaxDensity)

	if clipped > 0 {
		m.clipped += clipped
		m.logger.Debug("Emission density clipped", logging.Fields{
			"symbols": clipped,
			"total":   m.clipped,
		})
	}
	return nil
}

func (m *Model) lookup(i, l int) float64 {
	switch {
	case i == m.n && l == 0:
		return m.pause
	case i == m.n:
		return 0
	case l == 1:
		return m.mixtures[Silence]
	default:
		return m.mixtures[m.expected[i]]
	}
}

// Likelihood is b(obs, i, l) for a single state
func (m *Model) Likelihood(obs []float64, i, l int) (float64, error) {
	if i < 0 || i > m.n || l < 0 || l >= m.subStates {
		return 0, fmt.Errorf("state (%d, %d) out of range", i, l)
	}
	if err := m.prepare(obs); err != nil {
		return 0, err
	}
	return m.lookup(i, l), nil
}

// Likelihoods fills out[i*L+l] with b(obs, i, l) for every state including the pause
func (m *Model) Likelihoods(obs []float64, out []float64) error {
	if len(out) != (m.n+1)*m.subStates {
		return fmt.Errorf("likelihood buffer has %d entries, expected %d", len(out), (m.n+1)*m.subStates)
	}
	if err := m.prepare(obs); err != nil {
		return err
	}
	for i := 0; i <= m.n; i++ {
		for l := 0; l < m.subStates; l++ {
			out[i*m.subStates+l] = m.lookup(i, l)
		}
	}
	return nil
}
