package chroma

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func sine(freq float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestPitchClassOf(t *testing.T) {
	assert.Equal(t, 9, PitchClassOf(440, 440))
	assert.Equal(t, 0, PitchClassOf(261.63, 440))
	assert.Equal(t, 0, PitchClassOf(130.81, 440))
	assert.Equal(t, 6, PitchClassOf(92.5, 440)) // F#2
	assert.Equal(t, 11, PitchClassOf(7902.13, 440))
}

func TestFrameFindsThePitchClass(t *testing.T) {
	cfg := config.DefaultAudioConfig()
	e, err := NewExtractor(cfg)
	require.NoError(t, err)

	for freq, pc := range map[float64]int{440: 9, 261.63: 0, 392: 7, 587.33: 2} {
		frame, err := e.Frame(sine(freq, cfg.SampleRate, cfg.WindowSize))
		require.NoError(t, err)
		require.Len(t, frame, Bins)

		assert.Equal(t, pc, floats.MaxIdx(frame), "%g Hz", freq)
		assert.InDelta(t, 1, frame[pc], 1e-12)
	}
}

func TestQuietFramesAreSilence(t *testing.T) {
	cfg := config.DefaultAudioConfig()
	e, err := NewExtractor(cfg)
	require.NoError(t, err)

	frame, err := e.Frame(make([]float64, cfg.WindowSize))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, Bins), frame)

	// below the threshold even with a pitch
	quiet := sine(440, cfg.SampleRate, cfg.WindowSize)
	floats.Scale(1e-5, quiet)
	frame, err = e.Frame(quiet)
	require.NoError(t, err)
	assert.Zero(t, floats.Sum(frame))
}

func TestPushFramesAtHopSize(t *testing.T) {
	cfg := config.DefaultAudioConfig()
	e, err := NewExtractor(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 1140, e.FramesPerMinute(), 1e-9)

	signal := sine(440, cfg.SampleRate, cfg.SampleRate) // one second
	var frames [][]float64
	for start := 0; start < len(signal); start += 1000 {
		end := min(start+1000, len(signal))
		got, err := e.Push(signal[start:end])
		require.NoError(t, err)
		frames = append(frames, got...)
	}

	want := (len(signal)-cfg.WindowSize)/cfg.HopSize + 1
	assert.Len(t, frames, want)
	for _, f := range frames {
		assert.Equal(t, 9, floats.MaxIdx(f))
	}

	e.Reset()
	got, err := e.Push(signal[:cfg.WindowSize-1])
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFrameRejectsWrongLength(t *testing.T) {
	e, err := NewExtractor(config.DefaultAudioConfig())
	require.NoError(t, err)
	_, err = e.Frame(make([]float64, 10))
	assert.Error(t, err)
}
