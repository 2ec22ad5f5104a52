package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/follower"
	"github.com/RyanBlaney/sonido-follow/logging"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func TestIsFeatureFile(t *testing.T) {
	assert.True(t, isFeatureFile("take.npy"))
	assert.True(t, isFeatureFile("TAKE.CSV"))
	assert.False(t, isFeatureFile("take.wav"))
	assert.False(t, isFeatureFile("-"))
}

// writeRecording writes a CSV performance of twinkle at 9.5 frames per
// quarter note
func writeRecording(t *testing.T) string {
	t.Helper()
	pcs := []int{-1, 2, 2, 9, 9, 11, 11, 9, 9, 7, 7, 6, 6, 4, 4, 2, 2}

	var b strings.Builder
	for j, pc := range pcs {
		start, end := int(float64(j)*9.5+0.5), int(float64(j+1)*9.5+0.5)
		for frame := start; frame < end; frame++ {
			row := make([]string, 12)
			for k := range row {
				row[k] = "0"
				if k == pc {
					row[k] = "1"
				}
			}
			fmt.Fprintln(&b, strings.Join(row, ","))
		}
	}

	path := filepath.Join(t.TempDir(), "twinkle.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestOpenFeaturesCSV(t *testing.T) {
	src, err := openFeatures(writeRecording(t))
	require.NoError(t, err)
	assert.Equal(t, 162, src.Len())
}

func TestReplay(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"transition": {"recording_rate": 570}}`), 0o644))

	configPath = cfgPath
	scoreArg = "twinkle"
	paramsPath = ""
	replayInput = writeRecording(t)
	replayJSON = true
	t.Cleanup(func() {
		configPath, replayInput, replayJSON = "", "", false
	})

	require.NoError(t, replay(t.Context()))

	replayInput = "take.wav"
	assert.Error(t, replay(t.Context()))
}

func TestLoadConfigDefaults(t *testing.T) {
	configPath = ""
	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

// endless never runs dry
type endless struct{}

func (endless) Next(ctx context.Context) ([]float64, error) {
	return make([]float64, 12), nil
}

func TestStopPumpReleasesBlockedProducer(t *testing.T) {
	q, err := follower.NewQueue(1, config.BackpressureBlock)
	require.NoError(t, err)

	stop, done := startPump(context.Background(), q, endless{})

	// nobody consumes, so the producer ends up blocked on the full queue
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer still running after stop")
	}

	// the buffered frame is delivered, then the cancellation
	_, err = q.Next(context.Background())
	require.NoError(t, err)
	_, err = q.Next(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}
