package follower

import (
	"math"

	"github.com/RyanBlaney/sonido-follow/algorithms/tempo"
	"github.com/RyanBlaney/sonido-follow/config"
)

// TempoGate filters per-note tempo measurements through the Kalman filter.
// A measurement too far from the current tempo is ignored. The filtered
// estimate is adopted only when it moved more than MinAdopt and less than
// MaxAdopt away from the current tempo.
type TempoGate struct {
	cfg    config.TempoConfig
	kalman *tempo.Kalman

	rejected int
	adopted  int
}

// NewTempoGate seeds the filter with the nominal tempo
func NewTempoGate(initial float64, cfg config.TempoConfig) *TempoGate {
	return &TempoGate{
		cfg:    cfg,
		kalman: tempo.NewKalman(initial, cfg),
	}
}

// Measure feeds one observed tempo. It returns the filtered estimate and
// whether the caller should switch to it.
func (g *TempoGate) Measure(current, observed float64) (float64, bool) {
	if !(observed > 0) || math.IsInf(observed, 0) || math.Abs(observed-current) >= g.cfg.MaxDeviation {
		g.rejected++
		return g.kalman.Estimate(), false
	}

	estimate := g.kalman.NextMeasurement(observed)
	delta := math.Abs(estimate - current)
	if delta > g.cfg.MinAdopt && delta < g.cfg.MaxAdopt {
		g.adopted++
		return estimate, true
	}
	return estimate, false
}

// Estimate is the current filtered tempo
func (g *TempoGate) Estimate() float64 { return g.kalman.Estimate() }

// Rejected counts measurements dropped for deviating too far
func (g *TempoGate) Rejected() int { return g.rejected }

// Adopted counts estimates handed back for adoption
func (g *TempoGate) Adopted() int { return g.adopted }

// Measurements counts measurements that reached the filter
func (g *TempoGate) Measurements() int { return g.kalman.Measurements() }
