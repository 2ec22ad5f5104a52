package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Strict().Validate())
	assert.Zero(t, Strict().Transition.BreakEntry)

	audio := DefaultAudioConfig()
	assert.InDelta(t, DefaultTransitionConfig().RecordingRate, audio.FramesPerMinute(), 1e-9)
}

func TestDecodeOverlaysDefaults(t *testing.T) {
	cfg, err := Decode(strings.NewReader(`{
		"transition": {"sub_states": 2, "recording_rate": 570},
		"stream": {"priming": "symbol", "priming_symbol": "D"}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Transition.SubStates)
	assert.Equal(t, 570.0, cfg.Transition.RecordingRate)
	// untouched fields keep their defaults
	assert.Equal(t, 0.996, cfg.Transition.PauseSelfLoop)
	assert.Equal(t, 1.0e-50, cfg.Emission.PitchError)
	assert.Equal(t, PrimingSymbol, cfg.Stream.Priming)
}

func TestDecodeRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"sub states":     `{"transition": {"sub_states": 3}}`,
		"rate":           `{"transition": {"recording_rate": 0}}`,
		"probability":    `{"transition": {"pause_self_loop": 1.5}}`,
		"curve":          `{"transition": {"curve": {"kind": "spline"}}}`,
		"adopt band":     `{"tempo": {"min_adopt": 10, "max_adopt": 5}}`,
		"backpressure":   `{"stream": {"backpressure": "spill"}}`,
		"priming symbol": `{"stream": {"priming": "symbol"}}`,
		"unknown field":  `{"emission": {"colour": 1}}`,
		"rescale":        `{"forward": {"underflow_floor": 0.1, "rescale_factor": 100}}`,
		"hop":            `{"audio": {"hop_size": 8192}}`,
		"nyquist":        `{"audio": {"sample_rate": 8000}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), "expected a configuration error, got %v", err)
		})
	}
}

func TestConfigurationErrorUnwraps(t *testing.T) {
	cause := errors.New("bad header")
	err := Wrap("emission", cause, "cannot read %s", "mean_3.npy")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, "emission: cannot read mean_3.npy: bad header", err.Error())

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "emission", cfgErr.Component)
}
