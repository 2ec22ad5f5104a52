package follower

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RyanBlaney/sonido-follow/logging"
)

// Follower drives a Session from an observation stream. Per frame it
// steps the session, publishes an Event, and when the coarse note changes
// turns the frames spent on the previous note into a tempo measurement.
type Follower struct {
	session *Session
	sinks   []Sink

	frames    int
	started   bool
	prevIndex int
	prevNote  int
	duration  int

	logger logging.Logger
}

// New creates a follower publishing to sinks
func New(session *Session, sinks ...Sink) *Follower {
	return &Follower{
		session: session,
		sinks:   sinks,
		logger: logging.WithFields(logging.Fields{
			"component":  "follower",
			"session_id": session.ID(),
		}),
	}
}

// AddSink registers another sink; not safe to call while Run is active
func (f *Follower) AddSink(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Process handles one observation
func (f *Follower) Process(obs []float64) (Event, error) {
	st, err := f.session.Step(obs)
	if err != nil {
		return Event{}, fmt.Errorf("frame %d: %w", f.frames, err)
	}

	s := f.session.Score()
	note := s.TrueNoteEvent(st.Index)
	ev := Event{
		SessionID:   f.session.ID(),
		Frame:       f.frames,
		Index:       st.Index,
		SubState:    st.SubState,
		Note:        note,
		Pitch:       s.Pitch(st.Index).String(),
		Pause:       st.Index == s.N(),
		Probability: st.Probability,
	}
	if !ev.Pause {
		ev.Accompaniment = s.AccompanimentKeys(st.Index)
	}
	f.frames++

	if !f.started {
		f.started = true
		ev.Stable = true
		f.prevIndex = st.Index
		f.prevNote = note
		f.duration = 1
	} else {
		delta := st.Index - f.prevIndex
		ev.Stable = delta >= 0 && delta <= 2
		if err := f.track(st.Index, note); err != nil {
			f.logger.Error(err, "Tempo update failed", logging.Fields{
				"frame": ev.Frame,
			})
		}
		f.prevIndex = st.Index
	}

	ev.Tempo = f.session.Tempo()
	for _, sink := range f.sinks {
		sink.Publish(ev)
	}
	return ev, nil
}

// track counts frames on the current coarse note and measures the tempo
// when the performer moves on to the next one
func (f *Follower) track(index, note int) error {
	if note == f.prevNote {
		f.duration++
		return nil
	}

	prev, frames := f.prevNote, f.duration
	f.prevNote = note
	f.duration = 1

	// the first note has no defined onset, and moves into or out of the
	// pause or backwards do not measure a note length
	if prev < 1 || note < 0 || note < prev {
		return nil
	}

	beats := f.session.Score().ExpectedBeats(prev)
	adopted, err := f.session.MeasureNote(frames, beats)
	if err != nil {
		return err
	}
	if adopted {
		f.logger.Debug("Transitions rebuilt after note", logging.Fields{
			"note":   prev,
			"frames": frames,
			"index":  index,
		})
	}
	return nil
}

// Run processes observations from src until it is exhausted (nil), ctx is
// cancelled (ctx.Err()) or src fails (*StreamInterruption).
func (f *Follower) Run(ctx context.Context, src Source) error {
	logger := f.logger.WithContext(ctx)
	logger.Info("Following started")
	defer func() {
		stats := f.session.Stats()
		logger.Info("Following stopped", logging.Fields{
			"frames":   f.frames,
			"rescales": stats.Rescales,
			"reseeds":  stats.Reseeds,
			"tempo":    stats.Tempo,
		})
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		obs, err := src.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return &StreamInterruption{Frame: f.frames, Err: err}
		}

		if _, err := f.Process(obs); err != nil {
			return err
		}
	}
}

// Frames is the number of observations processed
func (f *Follower) Frames() int { return f.frames }

// Session returns the followed session
func (f *Follower) Session() *Session { return f.session }
