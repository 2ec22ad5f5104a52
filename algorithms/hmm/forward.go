package hmm

import (
	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

// Emitter produces b(obs, i, l) for every state, laid out as out[i*L+l]
// with the pause state at i = N
type Emitter interface {
	Positions() int
	SubStates() int
	Likelihoods(obs []float64, out []float64) error
}

// State is the MAP estimate after one observation
type State struct {
	Index       int     `json:"index"`
	SubState    int     `json:"sub_state"`
	Probability float64 `json:"probability"`
	Frame       int     `json:"frame"`
	Rescaled    bool    `json:"rescaled,omitempty"`
	Reseeded    bool    `json:"reseeded,omitempty"`
}

// Forward runs the banded forward recursion one observation at a time.
// It is not safe for concurrent use; callers serialise Step with any
// Transitions.Rebuild.
type Forward struct {
	trans   *Transitions
	emitter Emitter
	cfg     config.ForwardConfig
	n       int
	l       int

	alpha []float64
	next  []float64
	b     []float64

	started  bool
	frames   int
	rescales int
	reseeds  int

	logger logging.Logger
}

// NewForward ties transitions and emission model together
func NewForward(trans *Transitions, emitter Emitter, cfg config.ForwardConfig) (*Forward, error) {
	if trans == nil || emitter == nil {
		return nil, config.Errorf("forward", "transitions and emission model are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emitter.Positions() != trans.N() || emitter.SubStates() != trans.SubStates() {
		return nil, config.Errorf("forward", "emission model has %d x %d states, transitions have %d x %d",
			emitter.Positions(), emitter.SubStates(), trans.N(), trans.SubStates())
	}

	size := (trans.N() + 1) * trans.SubStates()
	return &Forward{
		trans:   trans,
		emitter: emitter,
		cfg:     cfg,
		n:       trans.N(),
		l:       trans.SubStates(),
		alpha:   make([]float64, size),
		next:    make([]float64, size),
		b:       make([]float64, size),
		logger: logging.WithFields(logging.Fields{
			"component": "forward",
		}),
	}, nil
}

func (f *Forward) idx(i, l int) int { return i*f.l + l }

// seed sets alpha = b ⊙ π with π = 1 at (0,0) and at the pause state
func (f *Forward) seed() {
	for k := range f.alpha {
		f.alpha[k] = 0
	}
	f.alpha[f.idx(0, 0)] = f.b[f.idx(0, 0)]
	f.alpha[f.idx(f.n, 0)] = f.b[f.idx(f.n, 0)]
}

// Start seeds the table from the first observation
func (f *Forward) Start(obs []float64) (State, error) {
	if err := f.emitter.Likelihoods(obs, f.b); err != nil {
		return State{}, err
	}
	f.seed()
	f.started = true
	f.frames = 1
	return f.finish(false), nil
}

// Step folds one observation into the table and returns the MAP state.
// The first call without Start seeds the table instead.
func (f *Forward) Step(obs []float64) (State, error) {
	if !f.started {
		return f.Start(obs)
	}
	if err := f.emitter.Likelihoods(obs, f.b); err != nil {
		return State{}, err
	}

	t := f.trans
	pause := f.alpha[f.idx(f.n, 0)]
	resume := pause * t.resume

	total := 0.0
	for i := 0; i < f.n; i++ {
		for l := 0; l < f.l; l++ {
			sum := 0.0
			for from := 0; from < f.l; from++ {
				sum += f.alpha[f.idx(i, from)] * t.stay[i][from][l]
			}
			if l == 0 {
				if i >= 1 {
					for from := 0; from < f.l; from++ {
						sum += f.alpha[f.idx(i-1, from)] * t.next[i-1][from]
					}
				}
				if i >= 2 {
					for from := 0; from < f.l; from++ {
						sum += f.alpha[f.idx(i-2, from)] * t.skip[i-2][from]
					}
				}
				sum += resume
			}
			v := f.b[f.idx(i, l)] * sum
			f.next[f.idx(i, l)] = v
			total += v
		}
	}

	enter := pause * t.breakStay
	for j := 0; j < f.n; j++ {
		for from := 0; from < f.l; from++ {
			enter += f.alpha[f.idx(j, from)] * t.toBreak[j][from]
		}
	}
	f.next[f.idx(f.n, 0)] = f.b[f.idx(f.n, 0)] * enter
	for l := 1; l < f.l; l++ {
		f.next[f.idx(f.n, l)] = 0
	}
	total += f.next[f.idx(f.n, 0)]

	f.alpha, f.next = f.next, f.alpha
	f.frames++

	reseeded := false
	if total == 0 {
		// every path underflowed or was ruled out, start over from π
		f.seed()
		f.reseeds++
		reseeded = true
		f.logger.Warn("Forward table collapsed, re-seeding", logging.Fields{
			"frame":   f.frames - 1,
			"reseeds": f.reseeds,
		})
	}
	return f.finish(reseeded), nil
}

func (f *Forward) finish(reseeded bool) State {
	rescaled := false
	maxIdx := floats.MaxIdx(f.alpha)
	for maxProb := f.alpha[maxIdx]; maxProb > 0 && maxProb < f.cfg.UnderflowFloor; maxProb = f.alpha[maxIdx] {
		f.Rescale(f.cfg.RescaleFactor)
		rescaled = true
	}
	if rescaled {
		f.logger.Debug("Rescaled forward table", logging.Fields{
			"frame":    f.frames - 1,
			"rescales": f.rescales,
		})
	}

	return State{
		Index:       maxIdx / f.l,
		SubState:    maxIdx % f.l,
		Probability: f.alpha[maxIdx],
		Frame:       f.frames - 1,
		Rescaled:    rescaled,
		Reseeded:    reseeded,
	}
}

// Rescale multiplies the whole table by factor. Argmax and ratios between
// states are unchanged.
func (f *Forward) Rescale(factor float64) {
	floats.Scale(factor, f.alpha)
	f.rescales++
}

// Alpha returns a copy of the table laid out as alpha[i*L+l]
func (f *Forward) Alpha() []float64 {
	return append([]float64(nil), f.alpha...)
}

// At returns alpha[i,l]
func (f *Forward) At(i, l int) float64 {
	if i < 0 || i > f.n || l < 0 || l >= f.l {
		return 0
	}
	return f.alpha[f.idx(i, l)]
}

// Frame is the number of observations processed
func (f *Forward) Frame() int { return f.frames }

// Rescales counts applied rescale operations
func (f *Forward) Rescales() int { return f.rescales }

// Reseeds counts collapses recovered by re-seeding
func (f *Forward) Reseeds() int { return f.reseeds }

// Started reports whether the table has been seeded
func (f *Forward) Started() bool { return f.started }

// Reset clears the table; the next Step seeds it again
func (f *Forward) Reset() {
	for k := range f.alpha {
		f.alpha[k] = 0
	}
	f.started = false
	f.frames = 0
}
