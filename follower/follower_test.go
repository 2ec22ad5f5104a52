package follower

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-follow/algorithms/emission"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

// major thirds apart, so no two notes within the band share a semitone
var thirds = []score.Pitch{
	score.C, score.E, score.GSharp, score.C, score.E, score.GSharp, score.C, score.E,
	score.GSharp, score.C, score.E, score.GSharp, score.C, score.E, score.GSharp, score.C,
}

func lineScore(t *testing.T, pitches ...score.Pitch) *score.Score {
	t.Helper()
	notes := make([]score.Note, len(pitches))
	for i, p := range pitches {
		notes[i] = score.NewNote(p, score.Quarter)
	}
	s, err := score.NewScore("line", 60, score.Quarter, notes)
	require.NoError(t, err)
	return s
}

func chromaOf(p score.Pitch) []float64 {
	v := make([]float64, emission.Dimension)
	if !p.IsRest() {
		v[p] = 1
	}
	return v
}

// performance plays note j from frame round(j*framesPerNote)
func performance(pitches []score.Pitch, framesPerNote float64) (obs [][]float64, truth []int) {
	total := int(math.Round(float64(len(pitches)) * framesPerNote))
	for frame, j := 0, 0; frame < total; frame++ {
		for j+1 < len(pitches) && float64(frame) >= math.Round(float64(j+1)*framesPerNote) {
			j++
		}
		obs = append(obs, chromaOf(pitches[j]))
		truth = append(truth, j)
	}
	return obs, truth
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Transition.RecordingRate = 570
	return cfg
}

func newSession(t *testing.T, s *score.Score, cfg *config.Config) *Session {
	t.Helper()
	sess, err := NewSession(s, emission.TemplateParams(1, 0.01), cfg)
	require.NoError(t, err)
	return sess
}

func notes(events []Event) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.Note
	}
	return out
}

func TestFollowsAtNominalTempoWithoutRebuilding(t *testing.T) {
	s := lineScore(t, thirds...)
	sess := newSession(t, s, testConfig())
	rec := &Recorder{}
	f := New(sess, rec)

	obs, truth := performance(thirds, 9.5)
	require.NoError(t, f.Run(context.Background(), NewSliceSource(obs)))

	events := rec.Events()
	require.Len(t, events, len(obs))
	assert.Equal(t, truth, notes(events))
	for i, ev := range events {
		assert.Equal(t, i, ev.Frame)
		assert.Equal(t, sess.ID(), ev.SessionID)
		assert.True(t, ev.Stable, "frame %d", i)
		assert.False(t, ev.Pause)
	}

	// measured tempos stay within the dead zone around 60
	stats := sess.Stats()
	assert.Greater(t, stats.Measurements, 10)
	assert.Zero(t, stats.Adopted)
	assert.Equal(t, 60.0, sess.Tempo())
	assert.InDelta(t, 60, sess.TempoEstimate(), 5)
}

func TestAdoptsFasterTempo(t *testing.T) {
	s := lineScore(t, thirds...)
	sess := newSession(t, s, testConfig())
	rec := &Recorder{}
	f := New(sess, rec)

	// 70 BPM at 570 frames per minute
	obs, truth := performance(thirds, 570.0/70)
	require.NoError(t, f.Run(context.Background(), NewSliceSource(obs)))

	assert.Equal(t, truth, notes(rec.Events()))
	assert.GreaterOrEqual(t, sess.Stats().Adopted, 1)
	assert.NotEqual(t, 60.0, sess.Tempo())
	assert.InDelta(t, 70, sess.Tempo(), 8)

	// events report the tempo in effect after the frame
	events := rec.Events()
	assert.Equal(t, sess.Tempo(), events[len(events)-1].Tempo)
}

func TestTracksBuiltinPieceAtNominalTempo(t *testing.T) {
	s, err := score.Builtin("twinkle")
	require.NoError(t, err)
	sess := newSession(t, s, testConfig())
	rec := &Recorder{}
	f := New(sess, rec)

	pitches := make([]score.Pitch, s.N())
	for i, n := range s.Subdivided() {
		pitches[i] = n.Pitch
	}
	obs, _ := performance(pitches, 9.5)
	require.NoError(t, f.Run(context.Background(), NewSliceSource(obs)))

	reached := make(map[int]bool)
	for _, ev := range rec.Events() {
		reached[ev.Note] = true
	}
	for c := 1; c < len(s.Notes()); c++ {
		assert.True(t, reached[c], "coarse note %d never reached", c)
	}

	// repeated notes are measured at their own length, so every
	// measurement passes the gate
	stats := sess.Stats()
	assert.GreaterOrEqual(t, stats.Measurements, 14)
	assert.Zero(t, stats.Rejected)
	assert.InDelta(t, 60, sess.Tempo(), 12)
}

func TestAllSilencePublishesPause(t *testing.T) {
	s := lineScore(t, thirds...)
	sess := newSession(t, s, testConfig())
	f := New(sess)

	for frame := 0; frame < 50; frame++ {
		ev, err := f.Process(chromaOf(score.Rest))
		require.NoError(t, err)
		assert.True(t, ev.Pause)
		assert.Equal(t, -1, ev.Note)
		assert.Equal(t, s.N(), ev.Index)
		assert.Empty(t, ev.Accompaniment)
	}
	assert.Zero(t, sess.Stats().Measurements)
}

func TestEventsCarryAccompaniment(t *testing.T) {
	s, err := score.Builtin("twinkle")
	require.NoError(t, err)
	sess := newSession(t, s, testConfig())

	var got []Event
	f := New(sess, SinkFunc(func(e Event) { got = append(got, e) }))

	for frame := 0; frame < 10; frame++ {
		_, err := f.Process(chromaOf(score.Rest))
		require.NoError(t, err)
	}
	ev, err := f.Process(chromaOf(score.D))
	require.NoError(t, err)

	require.Len(t, got, 11)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, []int{-1}, got[0].Accompaniment)
	assert.Equal(t, 1, ev.Index)
	assert.Equal(t, "D", ev.Pitch)
	assert.Equal(t, []int{57}, ev.Accompaniment) // A3
}

func TestPrimingPolicies(t *testing.T) {
	s := lineScore(t, thirds...)

	for policy, frames := range map[string]int{
		config.PrimingNone:      1,
		config.PrimingFirstNote: 2,
		config.PrimingSymbol:    2,
	} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig()
			cfg.Stream.Priming = policy
			cfg.Stream.PrimingSymbol = "silence"
			sess := newSession(t, s, cfg)

			st, err := sess.Step(chromaOf(score.C))
			require.NoError(t, err)
			assert.Equal(t, 0, st.Index)
			assert.Equal(t, frames, sess.Stats().Frames)

			sess.Reset()
			_, err = sess.Step(chromaOf(score.C))
			require.NoError(t, err)
			assert.Equal(t, frames, sess.Stats().Frames)
		})
	}

	cfg := testConfig()
	cfg.Stream.Priming = config.PrimingSymbol
	cfg.Stream.PrimingSymbol = "H"
	_, err := NewSession(s, emission.TemplateParams(1, 0.01), cfg)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSetTempo(t *testing.T) {
	sess := newSession(t, lineScore(t, thirds...), testConfig())

	// before the first frame the tempo filter follows the override
	require.NoError(t, sess.SetTempo(90))
	assert.Equal(t, 90.0, sess.Tempo())
	assert.Equal(t, 90.0, sess.TempoEstimate())

	err := sess.SetTempo(-1)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Equal(t, 90.0, sess.Tempo())

	_, err = sess.Step(chromaOf(score.C))
	require.NoError(t, err)
	require.NoError(t, sess.SetTempo(100))
	assert.Equal(t, 100.0, sess.Tempo())
	assert.Equal(t, 90.0, sess.TempoEstimate())
}

func TestTrackingCanBeDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Tempo.Track = false
	sess := newSession(t, lineScore(t, thirds...), cfg)

	adopted, err := sess.MeasureNote(8, 1)
	require.NoError(t, err)
	assert.False(t, adopted)
	assert.Zero(t, sess.Stats().Measurements)
}

func TestNewSessionValidates(t *testing.T) {
	s := lineScore(t, thirds...)
	_, err := NewSession(nil, emission.TemplateParams(1, 0.01), nil)
	assert.ErrorIs(t, err, config.ErrConfiguration)

	cfg := testConfig()
	cfg.Transition.SubStates = 3
	_, err = NewSession(s, emission.TemplateParams(1, 0.01), cfg)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

type failingSource struct {
	frames [][]float64
	err    error
}

func (f *failingSource) Next(ctx context.Context) ([]float64, error) {
	if len(f.frames) == 0 {
		return nil, f.err
	}
	obs := f.frames[0]
	f.frames = f.frames[1:]
	return obs, nil
}

func TestRunReportsStreamInterruption(t *testing.T) {
	sess := newSession(t, lineScore(t, thirds...), testConfig())
	f := New(sess)

	cause := errors.New("microphone unplugged")
	src := &failingSource{frames: [][]float64{chromaOf(score.C), chromaOf(score.C), chromaOf(score.C)}, err: cause}

	err := f.Run(context.Background(), src)
	require.Error(t, err)

	var interruption *StreamInterruption
	require.ErrorAs(t, err, &interruption)
	assert.Equal(t, 3, interruption.Frame)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, f.Frames())
}

func TestRunStopsOnCancel(t *testing.T) {
	sess := newSession(t, lineScore(t, thirds...), testConfig())
	f := New(sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Run(ctx, NewSliceSource([][]float64{chromaOf(score.C)}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.Frames())
}

func TestRunRejectsMalformedObservation(t *testing.T) {
	sess := newSession(t, lineScore(t, thirds...), testConfig())
	f := New(sess)

	err := f.Run(context.Background(), NewSliceSource([][]float64{{1, 2}}))
	assert.ErrorIs(t, err, emission.ErrObservationSize)

	var interruption *StreamInterruption
	assert.False(t, errors.As(err, &interruption))
}

func TestSummarize(t *testing.T) {
	s := lineScore(t, thirds...)
	sess := newSession(t, s, testConfig())
	rec := &Recorder{}
	f := New(sess, rec)

	obs, _ := performance(thirds, 9.5)
	require.NoError(t, f.Run(context.Background(), NewSliceSource(obs)))

	r := Summarize(rec.Events(), s, 570)
	assert.Equal(t, len(obs), r.Frames)
	assert.Zero(t, r.PauseFrames)
	assert.Equal(t, 1.0, r.Coverage)
	assert.Len(t, r.Notes, 16)
	assert.InDelta(t, 9.5, r.MeanFrames, 1e-9)
	assert.InDelta(t, 0, r.MeanError, 1e-9)
	assert.Zero(t, r.Regressions)
	assert.Equal(t, 9.5, r.Notes[0].Expected)
	assert.Equal(t, "C", r.Notes[0].Pitch)
	assert.Equal(t, 60.0, r.FinalTempo)
}

func TestQueueFeedsFollower(t *testing.T) {
	s := lineScore(t, thirds...)
	sess := newSession(t, s, testConfig())
	rec := &Recorder{}
	f := New(sess, rec)

	q, err := NewQueue(4, config.BackpressureBlock)
	require.NoError(t, err)

	obs, truth := performance(thirds, 9.5)
	ctx := context.Background()
	go q.Pump(ctx, NewSliceSource(obs))

	require.NoError(t, f.Run(ctx, q))
	assert.Equal(t, truth, notes(rec.Events()))
	assert.Zero(t, q.Dropped())

	_, err = q.Next(ctx)
	assert.Equal(t, io.EOF, err)
}
