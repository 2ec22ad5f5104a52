package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// Curve kinds
const (
	CurveGeometric   = "geometric"
	CurveExponential = "exponential"
)

// Backpressure policies for the observation queue
const (
	BackpressureBlock      = "block"
	BackpressureDropOldest = "drop-oldest"
)

// Priming policies for seeding the forward table
const (
	PrimingNone      = "none"
	PrimingFirstNote = "first-note"
	PrimingSymbol    = "symbol"
)

// Config holds every tunable of a following session
type Config struct {
	Emission   EmissionConfig   `json:"emission"`
	Transition TransitionConfig `json:"transition"`
	Forward    ForwardConfig    `json:"forward"`
	Tempo      TempoConfig      `json:"tempo"`
	Stream     StreamConfig     `json:"stream"`
	Audio      AudioConfig      `json:"audio"`
}

// EmissionConfig configures the harmonic mixture over the 13 Gaussians
type EmissionConfig struct {
	PitchError      float64 `json:"pitch_error"`       // C, probability of a pitch error
	SemitoneWeight  float64 `json:"semitone_weight"`   // used as is
	WholeToneWeight float64 `json:"whole_tone_weight"` // multiplied by PitchError
	FourthWeight    float64 `json:"fourth_weight"`     // multiplied by PitchError, 4th/5th
	MaxDensity      float64 `json:"max_density"`       // clip for score positions
	PauseMaxDensity float64 `json:"pause_max_density"` // clip for the pause state
}

// TransitionConfig configures the left-to-right topology
type TransitionConfig struct {
	SubStates      int         `json:"sub_states"`       // 1 or 2
	RecordingRate  float64     `json:"recording_rate"`   // frames per minute
	BreakEntry     float64     `json:"break_entry"`      // s
	Resume         float64     `json:"resume"`           // r, 0 means 1/(2N)
	Deletion       float64     `json:"deletion"`         // p_del
	PauseSelfLoop  float64     `json:"pause_self_loop"`  // a[N,N]
	SilentEntry    float64     `json:"silent_entry"`     // a[i,0,i,1] when SubStates == 2
	SilentSelfLoop float64     `json:"silent_self_loop"` // a[i,1,i,1] when SubStates == 2
	Curve          CurveConfig `json:"curve"`
}

// CurveConfig selects the tempo calibration curve.
// Exponential uses frames_per_beat = A*exp(-C*(tempo-B)) + D.
type CurveConfig struct {
	Kind string  `json:"kind"`
	A    float64 `json:"a,omitempty"`
	B    float64 `json:"b,omitempty"`
	C    float64 `json:"c,omitempty"`
	D    float64 `json:"d,omitempty"`
}

// ForwardConfig configures underflow handling of the forward table
type ForwardConfig struct {
	UnderflowFloor float64 `json:"underflow_floor"`
	RescaleFactor  float64 `json:"rescale_factor"`
}

// TempoConfig configures the Kalman filter and the adoption gate
type TempoConfig struct {
	Track            bool    `json:"track"`
	EstimateError    float64 `json:"estimate_error"`
	MeasurementError float64 `json:"measurement_error"`
	ProcessNoise     float64 `json:"process_noise"`
	MaxDeviation     float64 `json:"max_deviation"` // reject measurements further than this from the current tempo
	MinAdopt         float64 `json:"min_adopt"`     // dead zone
	MaxAdopt         float64 `json:"max_adopt"`     // ceiling

	// MeasurementRate is the frame rate (frames per minute) of the
	// observation stream. Zero falls back to Transition.RecordingRate.
	MeasurementRate float64 `json:"measurement_rate,omitempty"`
}

// StreamConfig configures the producer/consumer hand-off
type StreamConfig struct {
	QueueSize     int    `json:"queue_size"`
	Backpressure  string `json:"backpressure"`
	Priming       string `json:"priming"`
	PrimingSymbol string `json:"priming_symbol,omitempty"`
}

// AudioConfig configures decoding and chroma extraction for PCM input
type AudioConfig struct {
	FFmpegPath       string  `json:"ffmpeg_path"`
	SampleRate       int     `json:"sample_rate"`
	WindowSize       int     `json:"window_size"`
	HopSize          int     `json:"hop_size"`
	TuningFreq       float64 `json:"tuning_freq"` // A4
	MinFreq          float64 `json:"min_freq"`
	MaxFreq          float64 `json:"max_freq"`
	SilenceThreshold float64 `json:"silence_threshold"` // RMS below which a frame is silence
}

// DefaultConfig returns the configuration tuned for solo violin
func DefaultConfig() *Config {
	return &Config{
		Emission:   DefaultEmissionConfig(),
		Transition: DefaultTransitionConfig(),
		Forward:    DefaultForwardConfig(),
		Tempo:      DefaultTempoConfig(),
		Stream:     DefaultStreamConfig(),
		Audio:      DefaultAudioConfig(),
	}
}

// Strict returns the default configuration with the break state closed
// to entries from the score (s = 1e-1000, which is 0 in float64)
func Strict() *Config {
	cfg := DefaultConfig()
	cfg.Transition.BreakEntry = 0
	return cfg
}

func DefaultEmissionConfig() EmissionConfig {
	return EmissionConfig{
		PitchError:      1.0e-50,
		SemitoneWeight:  0.175,
		WholeToneWeight: 0.270,
		FourthWeight:    0.055,
		MaxDensity:      0.999,
		PauseMaxDensity: 0.001,
	}
}

func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{
		SubStates:      1,
		RecordingRate:  1140,
		BreakEntry:     1.0e-300,
		Resume:         0,
		Deletion:       1.0e-75,
		PauseSelfLoop:  0.996,
		SilentEntry:    1.0e-100,
		SilentSelfLoop: 0.999,
		Curve:          CurveConfig{Kind: CurveGeometric},
	}
}

func DefaultForwardConfig() ForwardConfig {
	return ForwardConfig{
		UnderflowFloor: 1.0e-110,
		RescaleFactor:  1.0e100,
	}
}

func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		Track:            true,
		EstimateError:    100 * 100,
		MeasurementError: 10 * 10,
		ProcessNoise:     100,
		MaxDeviation:     20,
		MinAdopt:         5,
		MaxAdopt:         60,
	}
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		QueueSize:    64,
		Backpressure: BackpressureBlock,
		Priming:      PrimingNone,
	}
}

// DefaultAudioConfig hops 19 times a second, matching the 1140 frames
// per minute of the default recording rate
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		FFmpegPath:       "ffmpeg",
		SampleRate:       22800,
		WindowSize:       4096,
		HopSize:          1200,
		TuningFreq:       440,
		MinFreq:          80,
		MaxFreq:          8000,
		SilenceThreshold: 1.0e-3,
	}
}

// Load reads a JSON configuration file on top of DefaultConfig
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Decode(bytes.NewReader(data))
}

// Decode reads a JSON configuration on top of DefaultConfig and validates it
func Decode(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, Wrap("config", err, "invalid configuration document")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MeasurementRate returns the frames per minute used to turn note
// durations into tempo measurements
func (c *Config) MeasurementRate() float64 {
	if c.Tempo.MeasurementRate > 0 {
		return c.Tempo.MeasurementRate
	}
	return c.Transition.RecordingRate
}

// Validate checks every section
func (c *Config) Validate() error {
	for _, v := range []interface{ Validate() error }{&c.Emission, &c.Transition, &c.Forward, &c.Tempo, &c.Stream, &c.Audio} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func isProbability(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

func (e *EmissionConfig) Validate() error {
	for name, p := range map[string]float64{
		"pitch_error":       e.PitchError,
		"semitone_weight":   e.SemitoneWeight,
		"whole_tone_weight": e.WholeToneWeight,
		"fourth_weight":     e.FourthWeight,
	} {
		if !isProbability(p) {
			return Errorf("emission", "%s must be in [0, 1], got %g", name, p)
		}
	}
	if e.MaxDensity <= 0 || e.PauseMaxDensity <= 0 {
		return Errorf("emission", "density clips must be positive")
	}
	return nil
}

func (t *TransitionConfig) Validate() error {
	if t.SubStates != 1 && t.SubStates != 2 {
		return Errorf("transition", "sub_states must be 1 or 2, got %d", t.SubStates)
	}
	if t.RecordingRate <= 0 {
		return Errorf("transition", "recording_rate must be positive, got %g", t.RecordingRate)
	}
	for name, p := range map[string]float64{
		"break_entry":      t.BreakEntry,
		"resume":           t.Resume,
		"deletion":         t.Deletion,
		"pause_self_loop":  t.PauseSelfLoop,
		"silent_entry":     t.SilentEntry,
		"silent_self_loop": t.SilentSelfLoop,
	} {
		if !isProbability(p) {
			return Errorf("transition", "%s must be in [0, 1], got %g", name, p)
		}
	}
	if t.SilentEntry+t.SilentSelfLoop > 1 {
		return Errorf("transition", "silent_entry + silent_self_loop exceeds 1")
	}
	return t.Curve.Validate()
}

func (c *CurveConfig) Validate() error {
	switch c.Kind {
	case CurveGeometric, "":
		return nil
	case CurveExponential:
		if c.A == 0 || c.C == 0 {
			return Errorf("curve", "exponential curve needs non-zero a and c")
		}
		return nil
	default:
		return Errorf("curve", "unknown curve kind %q", c.Kind)
	}
}

func (f *ForwardConfig) Validate() error {
	if f.UnderflowFloor <= 0 {
		return Errorf("forward", "underflow_floor must be positive")
	}
	if f.RescaleFactor <= 1 || math.IsInf(f.RescaleFactor, 0) {
		return Errorf("forward", "rescale_factor must be a finite value above 1")
	}
	if f.UnderflowFloor*f.RescaleFactor >= 1 {
		return Errorf("forward", "rescaling from the floor must not exceed 1")
	}
	return nil
}

func (t *TempoConfig) Validate() error {
	if t.EstimateError <= 0 || t.MeasurementError <= 0 || t.ProcessNoise < 0 {
		return Errorf("tempo", "kalman variances must be positive")
	}
	if t.MaxDeviation <= 0 {
		return Errorf("tempo", "max_deviation must be positive")
	}
	if t.MinAdopt < 0 || t.MaxAdopt <= t.MinAdopt {
		return Errorf("tempo", "adoption band must satisfy 0 <= min_adopt < max_adopt")
	}
	if t.MeasurementRate < 0 {
		return Errorf("tempo", "measurement_rate must not be negative")
	}
	return nil
}

func (s *StreamConfig) Validate() error {
	if s.QueueSize <= 0 {
		return Errorf("stream", "queue_size must be positive")
	}
	switch s.Backpressure {
	case BackpressureBlock, BackpressureDropOldest:
	default:
		return Errorf("stream", "unknown backpressure policy %q", s.Backpressure)
	}
	switch s.Priming {
	case PrimingNone, PrimingFirstNote:
	case PrimingSymbol:
		if s.PrimingSymbol == "" {
			return Errorf("stream", "priming policy %q needs priming_symbol", s.Priming)
		}
	default:
		return Errorf("stream", "unknown priming policy %q", s.Priming)
	}
	return nil
}

// FramesPerMinute is the observation rate produced from PCM input
func (a *AudioConfig) FramesPerMinute() float64 {
	if a.HopSize <= 0 {
		return 0
	}
	return 60 * float64(a.SampleRate) / float64(a.HopSize)
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 || a.WindowSize <= 0 || a.HopSize <= 0 {
		return Errorf("audio", "sample_rate, window_size and hop_size must be positive")
	}
	if a.HopSize > a.WindowSize {
		return Errorf("audio", "hop_size %d exceeds window_size %d", a.HopSize, a.WindowSize)
	}
	if a.TuningFreq <= 0 || a.MinFreq <= 0 || a.MaxFreq <= a.MinFreq {
		return Errorf("audio", "frequency range must satisfy 0 < min_freq < max_freq")
	}
	if a.MaxFreq > float64(a.SampleRate)/2 {
		return Errorf("audio", "max_freq %g is above the Nyquist frequency", a.MaxFreq)
	}
	if a.SilenceThreshold < 0 {
		return Errorf("audio", "silence_threshold must not be negative")
	}
	return nil
}
