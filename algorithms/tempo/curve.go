package tempo

import (
	"math"

	"github.com/RyanBlaney/sonido-follow/config"
)

// Curve turns a target tempo into the self-loop probability of a score
// position lasting subBeat beats, for a stream of rate frames per minute.
type Curve interface {
	SelfLoop(tempo, subBeat, rate float64) float64
}

// FramesPerEvent is the expected number of frames one sub-beat event lasts
func FramesPerEvent(tempo, subBeat, rate float64) float64 {
	return rate / tempo * subBeat
}

// Geometric picks the self loop for which the MAP position leaves a run
// of positions with equal emissions once every target frame count.
//
// A position stays with p and enters its successor with
// q = (1-p)(1-s-p-skip), skip = (1-p)*Deletion, s = BreakEntry. After t
// frames on a run the mass k positions ahead is C(t,k) q^k p^(t-k), so the
// argmax advances every (p+q)/q frames. Solving (p+q)/q = frames for
// u = 1-p gives
//
//	(frames-1)(1-Deletion) u^2 + (1 - (frames-1) s) u - 1 = 0
type Geometric struct {
	BreakEntry float64
	Deletion   float64
}

func (g Geometric) SelfLoop(tempo, subBeat, rate float64) float64 {
	frames := FramesPerEvent(tempo, subBeat, rate)
	if !(frames > 1) {
		return 0
	}
	a := (frames - 1) * (1 - g.Deletion)
	b := 1 - (frames-1)*g.BreakEntry
	u := 2 / (b + math.Sqrt(b*b+4*a))
	return math.Max(0, math.Min(1, 1-u))
}

// Exponential is a fitted calibration of the frames a beat lasts when the
// model runs at a given system tempo:
//
//	frames_per_beat = A*exp(-C*(tempo-B)) + D
type Exponential struct {
	A, B, C, D float64
}

// FramesPerBeat evaluates the fitted curve
func (e Exponential) FramesPerBeat(tempo float64) float64 {
	return e.A*math.Exp(-e.C*(tempo-e.B)) + e.D
}

// SystemTempo inverts the fitted curve
func (e Exponential) SystemTempo(framesPerBeat float64) float64 {
	return math.Log((framesPerBeat-e.D)/e.A)/(-e.C) + e.B
}

// SelfLoop finds the system tempo realising the target frame count and
// maps it onto a probability. The result is NaN or outside [0,1] when the
// target lies outside the fitted range; the transition builder rejects it.
func (e Exponential) SelfLoop(tempo, subBeat, rate float64) float64 {
	return 1 - e.SystemTempo(FramesPerEvent(tempo, subBeat, rate))/rate
}

// NewCurve builds the curve selected in the configuration for the
// topology described by cfg
func NewCurve(cfg config.TransitionConfig) (Curve, error) {
	c := cfg.Curve
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Kind == config.CurveExponential {
		return Exponential{A: c.A, B: c.B, C: c.C, D: c.D}, nil
	}
	return Geometric{BreakEntry: cfg.BreakEntry, Deletion: cfg.Deletion}, nil
}
