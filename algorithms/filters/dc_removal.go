package filters

import "math"

// DCRemoval is a one-pole DC blocker, y[n] = x[n] - x[n-1] + R*y[n-1].
// It keeps state across calls so a stream can be filtered block by block.
//
// Reference: Julius O. Smith III, "Introduction to Digital Filters with
// Audio Applications", DC Blocker.
type DCRemoval struct {
	pole float64 // R, 0 < R < 1

	x1 float64
	y1 float64
}

// NewDCRemoval creates a blocker with the -3 dB point near cutoffFreq,
// using R = 1 - 2*pi*fc/fs
func NewDCRemoval(sampleRate int, cutoffFreq float64) *DCRemoval {
	pole := 0.995
	if sampleRate > 0 && cutoffFreq > 0 {
		pole = math.Max(0, math.Min(0.9999, 1-2*math.Pi*cutoffFreq/float64(sampleRate)))
	}
	return &DCRemoval{pole: pole}
}

// ProcessInPlace filters samples in place
func (dc *DCRemoval) ProcessInPlace(samples []float64) {
	for i, x := range samples {
		y := x - dc.x1 + dc.pole*dc.y1
		dc.x1 = x
		dc.y1 = y
		samples[i] = y
	}
}

// Pole returns R
func (dc *DCRemoval) Pole() float64 { return dc.pole }

// Reset clears the filter state
func (dc *DCRemoval) Reset() {
	dc.x1 = 0
	dc.y1 = 0
}
