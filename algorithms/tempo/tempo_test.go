package tempo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/RyanBlaney/sonido-follow/config"
)

func TestKalmanFirstUpdate(t *testing.T) {
	cfg := config.DefaultTempoConfig()
	k := NewKalman(60, cfg)
	assert.Equal(t, 100.0*100+100, k.Uncertainty())

	got := k.NextMeasurement(70)

	gain := 10100.0 / (10100.0 + 100)
	assert.InDelta(t, gain, k.Gain(), 1e-12)
	assert.InDelta(t, 60+gain*10, got, 1e-12)
	assert.InDelta(t, 100*10100.0/(100+10100.0)+100, k.Uncertainty(), 1e-9)
	assert.Equal(t, 1, k.Measurements())

	assert.Equal(t, got, k.NextMeasurement(math.NaN()))
}

func TestKalmanConvergenceBand(t *testing.T) {
	const (
		trueTempo = 60.0
		trials    = 100
		samples   = 200
	)
	noise := distuv.Normal{Mu: 0, Sigma: 1}

	passed := 0
	for trial := 0; trial < trials; trial++ {
		k := NewKalman(trueTempo, config.DefaultTempoConfig())

		errs := make([]float64, samples)
		for i := range errs {
			obs := trueTempo + noise.Rand()
			errs[i] = math.Abs(obs - k.NextMeasurement(obs))
		}

		// neither ignores the noise nor copies it
		if m := stat.Mean(errs, nil); m > 0.1 && m < 2.0 {
			passed++
		}
	}
	assert.GreaterOrEqual(t, passed, trials-2)
}

func TestObservedTempo(t *testing.T) {
	assert.InDelta(t, 60, ObservedTempo(19, 2, 570), 1e-9)
	assert.InDelta(t, 570.0/9, ObservedTempo(9, 1, 570), 1e-9)
	assert.Zero(t, ObservedTempo(0, 1, 570))
	assert.Zero(t, ObservedTempo(4, 0, 570))
}

// runLength is the number of frames the MAP spends on each of a run of
// positions with equal emissions, (p+q)/q
func runLength(p, breakEntry, deletion float64) float64 {
	u := 1 - p
	q := u * (1 - breakEntry - p - u*deletion)
	return (p + q) / q
}

func TestGeometricCurve(t *testing.T) {
	g := Geometric{}
	assert.InDelta(t, 1-2/(1+math.Sqrt(35)), g.SelfLoop(60, 1, 570), 1e-12)

	cases := []struct {
		tempo, subBeat, rate float64
	}{
		{60, 1, 570},
		{60, 0.5, 570},
		{60, 0.5, 2280},
		{90, 1, 1140},
		{180, 1, 1140},
	}
	for _, c := range cases {
		frames := FramesPerEvent(c.tempo, c.subBeat, c.rate)
		assert.InDelta(t, frames, runLength(g.SelfLoop(c.tempo, c.subBeat, c.rate), 0, 0), 1e-9)

		topology := Geometric{BreakEntry: 0.01, Deletion: 0.02}
		p := topology.SelfLoop(c.tempo, c.subBeat, c.rate)
		assert.InDelta(t, frames, runLength(p, 0.01, 0.02), 1e-9)
	}

	// faster tempo, shorter dwell
	assert.Less(t, g.SelfLoop(120, 1, 570), g.SelfLoop(60, 1, 570))
	assert.Zero(t, g.SelfLoop(600, 1, 570))
}

func TestExponentialCurveInverts(t *testing.T) {
	e := Exponential{A: 40, B: 60, C: 0.02, D: 5}
	for _, tempo := range []float64{40, 60, 90, 140} {
		assert.InDelta(t, tempo, e.SystemTempo(e.FramesPerBeat(tempo)), 1e-9)
	}

	// self loop is 1 - system_tempo/rate
	fpb := FramesPerEvent(60, 0.5, 1140)
	assert.InDelta(t, 1-e.SystemTempo(fpb)/1140, e.SelfLoop(60, 0.5, 1140), 1e-12)
}

func TestNewCurve(t *testing.T) {
	cfg := config.DefaultTransitionConfig()
	c, err := NewCurve(cfg)
	require.NoError(t, err)
	assert.Equal(t, Geometric{BreakEntry: cfg.BreakEntry, Deletion: cfg.Deletion}, c)

	cfg.Curve = config.CurveConfig{Kind: config.CurveExponential, A: 1, B: 2, C: 3, D: 4}
	c, err = NewCurve(cfg)
	require.NoError(t, err)
	assert.Equal(t, Exponential{A: 1, B: 2, C: 3, D: 4}, c)

	cfg.Curve = config.CurveConfig{Kind: config.CurveExponential}
	_, err = NewCurve(cfg)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}
