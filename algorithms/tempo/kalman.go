package tempo

import (
	"math"

	"github.com/RyanBlaney/sonido-follow/config"
)

// Kalman is a scalar Kalman filter over the performed tempo. It is purely
// sequential: every measurement updates gain, estimate and uncertainty once.
type Kalman struct {
	estimate         float64
	uncertainty      float64
	measurementError float64
	processNoise     float64
	gain             float64
	measurements     int
}

// NewKalman seeds the filter with the nominal tempo
func NewKalman(initial float64, cfg config.TempoConfig) *Kalman {
	return &Kalman{
		estimate:         initial,
		uncertainty:      cfg.EstimateError + cfg.ProcessNoise,
		measurementError: cfg.MeasurementError,
		processNoise:     cfg.ProcessNoise,
	}
}

// NextMeasurement folds one observed tempo into the estimate and returns it
func (k *Kalman) NextMeasurement(measurement float64) float64 {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return k.estimate
	}

	k.gain = k.uncertainty / (k.uncertainty + k.measurementError)
	k.estimate += k.gain * (measurement - k.estimate)
	k.uncertainty = k.measurementError*k.uncertainty/(k.measurementError+k.uncertainty) + k.processNoise
	k.measurements++

	return k.estimate
}

func (k *Kalman) Estimate() float64    { return k.estimate }
func (k *Kalman) Uncertainty() float64 { return k.uncertainty }
func (k *Kalman) Gain() float64        { return k.gain }
func (k *Kalman) Measurements() int    { return k.measurements }

// ObservedTempo converts the frames spent on one note into a tempo.
// rate is in frames per minute and beats is the notated note value.
func ObservedTempo(frames int, beats, rate float64) float64 {
	if frames <= 0 || beats <= 0 {
		return 0
	}
	framesPerBeat := float64(frames) / beats
	return rate / framesPerBeat
}
