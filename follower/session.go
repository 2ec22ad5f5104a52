package follower

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/RyanBlaney/sonido-follow/algorithms/emission"
	"github.com/RyanBlaney/sonido-follow/algorithms/hmm"
	"github.com/RyanBlaney/sonido-follow/algorithms/tempo"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

// Session owns every piece of mutable following state for one performance
// of one score: the current tempo, the transitions built for it, the
// forward table and the tempo filter. A single mutex serialises steps and
// rebuilds, so a rebuild always lands between two frames.
type Session struct {
	mu sync.Mutex

	id      string
	score   *score.Score
	cfg     *config.Config
	params  *emission.Params
	model   *emission.Model
	trans   *hmm.Transitions
	forward *hmm.Forward
	gate    *TempoGate

	tempo   float64
	priming []float64
	primed  bool

	logger logging.Logger
}

// NewSession builds the emission model, transitions and forward engine
// for s at its nominal tempo
func NewSession(s *score.Score, params *emission.Params, cfg *config.Config) (*Session, error) {
	if s == nil || params == nil {
		return nil, config.Errorf("session", "score and emission parameters are required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	curve, err := tempo.NewCurve(cfg.Transition)
	if err != nil {
		return nil, err
	}
	model, err := emission.NewModel(params, s, cfg.Transition.SubStates, cfg.Emission)
	if err != nil {
		return nil, err
	}
	trans, err := hmm.Build(s, s.Tempo(), cfg.Transition, curve)
	if err != nil {
		return nil, err
	}
	forward, err := hmm.NewForward(trans, model, cfg.Forward)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sess := &Session{
		id:      id,
		score:   s,
		cfg:     cfg,
		params:  params,
		model:   model,
		trans:   trans,
		forward: forward,
		gate:    NewTempoGate(s.Tempo(), cfg.Tempo),
		tempo:   s.Tempo(),
		logger: logging.WithFields(logging.Fields{
			"component":  "session",
			"session_id": id,
			"score":      s.Title(),
		}),
	}

	sess.priming, err = sess.primingObservation()
	if err != nil {
		return nil, err
	}

	sess.logger.Info("Session created", logging.Fields{
		"events":     s.N(),
		"tempo":      s.Tempo(),
		"sub_states": cfg.Transition.SubStates,
		"priming":    cfg.Stream.Priming,
	})
	return sess, nil
}

// primingObservation resolves the priming policy into the observation fed
// to Start before the first real frame, nil for none
func (s *Session) primingObservation() ([]float64, error) {
	switch s.cfg.Stream.Priming {
	case config.PrimingFirstNote:
		symbol := emission.Silence
		if n, ok := s.score.FirstPitched(); ok {
			symbol = emission.SymbolOf(n.Pitch)
		}
		return s.params.Mean(symbol)
	case config.PrimingSymbol:
		name := s.cfg.Stream.PrimingSymbol
		if strings.EqualFold(name, "silence") {
			return s.params.Mean(emission.Silence)
		}
		p, err := score.ParsePitch(name)
		if err != nil {
			return nil, config.Wrap("session", err, "invalid priming symbol")
		}
		return s.params.Mean(emission.SymbolOf(p))
	default:
		return nil, nil
	}
}

// Step folds one observation into the forward table
func (s *Session) Step(obs []float64) (hmm.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		if s.priming != nil {
			if _, err := s.forward.Start(s.priming); err != nil {
				return hmm.State{}, err
			}
		}
		s.primed = true
	}
	return s.forward.Step(obs)
}

// SetTempo rebuilds the tempo dependent transitions. On error the previous
// tempo stays in effect. Before the first frame the tempo filter is seeded
// with bpm as well.
func (s *Session) SetTempo(bpm float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.setTempo(bpm); err != nil {
		return err
	}
	if !s.primed {
		s.gate = NewTempoGate(bpm, s.cfg.Tempo)
	}
	return nil
}

func (s *Session) setTempo(bpm float64) error {
	if err := s.trans.Rebuild(bpm); err != nil {
		s.logger.Error(err, "Failed to rebuild transitions", logging.Fields{
			"tempo": bpm,
		})
		return err
	}

	s.logger.Info("Tempo adopted", logging.Fields{
		"previous": s.tempo,
		"tempo":    bpm,
	})
	s.tempo = bpm
	return nil
}

// MeasureNote turns the frames spent on a coarse note of the given notated
// length into a tempo measurement and runs it through the gate. It reports
// whether the transitions were rebuilt for a new tempo.
func (s *Session) MeasureNote(frames int, beats float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Tempo.Track {
		return false, nil
	}

	observed := tempo.ObservedTempo(frames, beats, s.cfg.MeasurementRate())
	estimate, adopt := s.gate.Measure(s.tempo, observed)
	s.logger.Debug("Tempo measured", logging.Fields{
		"frames":   frames,
		"beats":    beats,
		"observed": observed,
		"estimate": estimate,
		"adopt":    adopt,
	})
	if !adopt {
		return false, nil
	}
	if err := s.setTempo(estimate); err != nil {
		return false, err
	}
	return true, nil
}

// Reset clears the forward table so the next Step starts over
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward.Reset()
	s.primed = false
}

// ID is the session's unique identifier
func (s *Session) ID() string { return s.id }

// Score is the score being followed
func (s *Session) Score() *score.Score { return s.score }

// Tempo is the tempo the transitions are currently built for
func (s *Session) Tempo() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempo
}

// TempoEstimate is the Kalman estimate, which may differ from Tempo until
// it is adopted
func (s *Session) TempoEstimate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.Estimate()
}

// Stats is a snapshot of the session's counters
type Stats struct {
	Frames       int     `json:"frames"`
	Rescales     int     `json:"rescales"`
	Reseeds      int     `json:"reseeds"`
	Clipped      int     `json:"clipped"`
	Measurements int     `json:"tempo_measurements"`
	Rejected     int     `json:"tempo_rejected"`
	Adopted      int     `json:"tempo_adopted"`
	Tempo        float64 `json:"tempo"`
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Frames:       s.forward.Frame(),
		Rescales:     s.forward.Rescales(),
		Reseeds:      s.forward.Reseeds(),
		Clipped:      s.model.Clipped(),
		Measurements: s.gate.Measurements(),
		Rejected:     s.gate.Rejected(),
		Adopted:      s.gate.Adopted(),
		Tempo:        s.tempo,
	}
}
