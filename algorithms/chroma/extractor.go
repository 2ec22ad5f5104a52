package chroma

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-follow/algorithms/filters"
	"github.com/RyanBlaney/sonido-follow/algorithms/spectral"
	"github.com/RyanBlaney/sonido-follow/algorithms/windowing"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

// Bins is the number of pitch classes, C first
const Bins = 12

// dcCutoff is the high-pass corner applied to streamed PCM, in Hz
const dcCutoff = 20.0

// Extractor turns mono PCM into 12-d chroma frames. Frequencies are folded
// onto pitch classes with A4 = TuningFreq and each frame is scaled so its
// largest bin is 1. Frames quieter than SilenceThreshold are all zero.
//
// An Extractor keeps the samples of a partial window between calls and is
// not safe for concurrent use.
type Extractor struct {
	cfg     config.AudioConfig
	window  *windowing.Hann
	dc      *filters.DCRemoval
	mapping []int // FFT bin -> pitch class, -1 outside [MinFreq, MaxFreq]

	pending  []float64
	windowed []float64
	frames   int
	silent   int

	logger logging.Logger
}

// NewExtractor validates cfg and precomputes the bin mapping
func NewExtractor(cfg config.AudioConfig) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		cfg:      cfg,
		window:   windowing.NewHann(cfg.WindowSize, false),
		dc:       filters.NewDCRemoval(cfg.SampleRate, dcCutoff),
		windowed: make([]float64, cfg.WindowSize),
		logger: logging.WithFields(logging.Fields{
			"component": "chroma_extractor",
		}),
	}
	e.mapping = e.binMapping()
	return e, nil
}

func (e *Extractor) binMapping() []int {
	n := e.cfg.WindowSize
	mapping := make([]int, n/2+1)
	for k := range mapping {
		frequency := spectral.BinFrequency(k, n, e.cfg.SampleRate)
		if frequency < e.cfg.MinFreq || frequency > e.cfg.MaxFreq {
			mapping[k] = -1
			continue
		}
		mapping[k] = PitchClassOf(frequency, e.cfg.TuningFreq)
	}
	return mapping
}

// PitchClassOf folds a frequency onto 0..11 with C = 0
func PitchClassOf(frequency, tuning float64) int {
	midi := 69.0 + 12.0*math.Log2(frequency/tuning)
	pc := int(math.Round(midi)) % Bins
	if pc < 0 {
		pc += Bins
	}
	return pc
}

// Frame computes the chroma vector of exactly WindowSize samples
func (e *Extractor) Frame(samples []float64) ([]float64, error) {
	if len(samples) != e.cfg.WindowSize {
		return nil, fmt.Errorf("frame has %d samples, window size is %d", len(samples), e.cfg.WindowSize)
	}

	out := make([]float64, Bins)
	e.frames++
	if rms(samples) < e.cfg.SilenceThreshold {
		e.silent++
		return out, nil
	}

	if err := e.window.ApplyTo(e.windowed, samples); err != nil {
		return nil, err
	}
	for k, magnitude := range spectral.Magnitudes(e.windowed) {
		if pc := e.mapping[k]; pc >= 0 {
			out[pc] += magnitude * magnitude
		}
	}

	peak := floats.Max(out)
	if peak <= 1e-12 {
		e.silent++
		return make([]float64, Bins), nil
	}
	floats.Scale(1/peak, out)
	return out, nil
}

// Push high-pass filters and buffers samples, then returns every frame
// completed by them. Frames start HopSize samples apart.
func (e *Extractor) Push(samples []float64) ([][]float64, error) {
	start := len(e.pending)
	e.pending = append(e.pending, samples...)
	e.dc.ProcessInPlace(e.pending[start:])

	var frames [][]float64
	for len(e.pending) >= e.cfg.WindowSize {
		frame, err := e.Frame(e.pending[:e.cfg.WindowSize])
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		e.pending = e.pending[e.cfg.HopSize:]
	}

	// keep the backing array from growing without bound
	if cap(e.pending) > 4*e.cfg.WindowSize {
		e.pending = append([]float64(nil), e.pending...)
	}
	return frames, nil
}

// Reset drops any buffered samples
func (e *Extractor) Reset() {
	e.pending = e.pending[:0]
	e.dc.Reset()
	if e.frames > 0 {
		e.logger.Debug("Chroma extractor reset", logging.Fields{
			"frames": e.frames,
			"silent": e.silent,
		})
	}
	e.frames = 0
	e.silent = 0
}

// FramesPerMinute is the rate at which Push produces frames
func (e *Extractor) FramesPerMinute() float64 {
	return e.cfg.FramesPerMinute()
}

// WindowSize is the number of samples per frame
func (e *Extractor) WindowSize() int { return e.cfg.WindowSize }

// HopSize is the number of samples between frame starts
func (e *Extractor) HopSize() int { return e.cfg.HopSize }

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
}
