package hmm

import (
	"math"

	"github.com/RyanBlaney/sonido-follow/algorithms/tempo"
	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/score"
)

// RowTolerance is how far above 1 a row may sum before it is rejected
const RowTolerance = 1e-9

// MaxSubStates bounds L
const MaxSubStates = 2

// bottom is the bottom-state weight of entering a position: all mass goes
// to the sounding sub-state
var bottom = [MaxSubStates]float64{1, 0}

// Transitions stores the left-to-right topology as bands. Position i
// can stay, move to i+1, skip to i+2 or enter the pause state N. The pause
// state can stay or resume at any position. Every other transition is 0.
type Transitions struct {
	n       int
	l       int
	subBeat float64
	rate    float64
	cfg     config.TransitionConfig
	curve   tempo.Curve
	bpm     float64

	selfLoop float64

	stay    [][MaxSubStates][MaxSubStates]float64 // (i,from) -> (i,to)
	exit    [][MaxSubStates]float64
	next    [][MaxSubStates]float64 // (i,from) -> (i+1,0)
	skip    [][MaxSubStates]float64 // (i,from) -> (i+2,0)
	toBreak [][MaxSubStates]float64 // (i,from) -> (N,0)

	breakStay float64 // (N,0) -> (N,0)
	resume    float64 // (N,0) -> (i,0) for every i < N
}

// Build constructs the transitions of s at the given tempo
func Build(s *score.Score, bpm float64, cfg config.TransitionConfig, curve tempo.Curve) (*Transitions, error) {
	if s == nil || s.N() == 0 {
		return nil, config.Errorf("transition", "score is empty")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if curve == nil {
		return nil, config.Errorf("transition", "calibration curve is required")
	}

	n := s.N()
	t := &Transitions{
		n:       n,
		l:       cfg.SubStates,
		subBeat: s.SubBeat(),
		rate:    cfg.RecordingRate,
		cfg:     cfg,
		curve:   curve,
		stay:    make([][MaxSubStates][MaxSubStates]float64, n),
		exit:    make([][MaxSubStates]float64, n),
		next:    make([][MaxSubStates]float64, n),
		skip:    make([][MaxSubStates]float64, n),
		toBreak: make([][MaxSubStates]float64, n),
	}

	p, err := t.selfLoopFor(bpm)
	if err != nil {
		return nil, err
	}
	t.bpm = bpm
	t.selfLoop = p

	for i := 0; i < n; i++ {
		t.stay[i] = t.stayBlock(p)
		t.exit[i] = t.exitFor(t.stay[i])

		for from := 0; from < t.l; from++ {
			e := t.exit[i][from]
			if i < n-2 {
				t.skip[i][from] = e * cfg.Deletion * bottom[0]
			}
			t.toBreak[i][from] = e * cfg.BreakEntry * bottom[0]
		}
		t.next[i] = t.nextFor(i, p, t.exit[i])
	}

	r := cfg.Resume
	if r == 0 {
		r = 1 / (2 * float64(n))
	}
	t.breakStay = cfg.PauseSelfLoop
	t.resume = (1 - cfg.PauseSelfLoop) * r * bottom[0]

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transitions) selfLoopFor(bpm float64) (float64, error) {
	if !(bpm > 0) || math.IsInf(bpm, 0) {
		return 0, config.Errorf("transition", "tempo must be positive, got %g", bpm)
	}
	p := t.curve.SelfLoop(bpm, t.subBeat, t.rate)
	if math.IsNaN(p) || p < 0 || p > 1 {
		return 0, config.Errorf("transition", "self loop %g at %g BPM is not a probability", p, bpm)
	}
	return p, nil
}

func (t *Transitions) stayBlock(p float64) [MaxSubStates][MaxSubStates]float64 {
	var block [MaxSubStates][MaxSubStates]float64
	block[0][0] = p
	if t.l == 2 {
		block[0][1] = t.cfg.SilentEntry
		block[1][1] = t.cfg.SilentSelfLoop
		block[1][0] = 0
	}
	return block
}

func (t *Transitions) exitFor(block [MaxSubStates][MaxSubStates]float64) [MaxSubStates]float64 {
	var e [MaxSubStates]float64
	for from := 0; from < t.l; from++ {
		sum := 0.0
		for to := 0; to < t.l; to++ {
			sum += block[from][to]
		}
		e[from] = 1 - sum
	}
	return e
}

// nextFor allocates what is left after self loop, skip and break entry
// to the adjacent position
func (t *Transitions) nextFor(i int, p float64, exit [MaxSubStates]float64) [MaxSubStates]float64 {
	var next [MaxSubStates]float64
	if i >= t.n-1 {
		return next
	}
	remaining := 1 - t.cfg.BreakEntry - p - t.skip[i][0]
	for from := 0; from < t.l; from++ {
		next[from] = exit[from] * remaining * bottom[0]
	}
	return next
}

// Rebuild re-parameterises the transitions for a new tempo. Only the self
// loops and the forward transitions change. On error the previous values
// stay in place.
func (t *Transitions) Rebuild(bpm float64) error {
	p, err := t.selfLoopFor(bpm)
	if err != nil {
		return err
	}

	stay := t.stayBlock(p)
	exit := t.exitFor(stay)
	next := make([][MaxSubStates]float64, t.n)
	for i := 0; i < t.n; i++ {
		next[i] = t.nextFor(i, p, exit)
		for from := 0; from < t.l; from++ {
			if err := checkRow(i, from, t.rowSum(i, from, stay, next[i])); err != nil {
				return err
			}
			for _, v := range []float64{stay[from][0], stay[from][1], next[i][from]} {
				if err := checkEntry(i, from, v); err != nil {
					return err
				}
			}
		}
	}

	for i := 0; i < t.n; i++ {
		t.stay[i] = stay
		t.exit[i] = exit
	}
	t.next = next
	t.bpm = bpm
	t.selfLoop = p
	return nil
}

func (t *Transitions) rowSum(i, from int, stay [MaxSubStates][MaxSubStates]float64, next [MaxSubStates]float64) float64 {
	sum := next[from] + t.skip[i][from] + t.toBreak[i][from]
	for to := 0; to < t.l; to++ {
		sum += stay[from][to]
	}
	return sum
}

func checkEntry(j, from int, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return config.Errorf("transition", "row (%d, %d) has invalid entry %g", j, from, v)
	}
	return nil
}

func checkRow(j, from int, sum float64) error {
	if math.IsNaN(sum) || sum > 1+RowTolerance {
		return config.Errorf("transition", "row (%d, %d) sums to %g", j, from, sum)
	}
	return nil
}

// Validate checks that every entry is a finite non-negative number and that
// no row sums to more than 1
func (t *Transitions) Validate() error {
	for i := 0; i < t.n; i++ {
		for from := 0; from < t.l; from++ {
			entries := []float64{t.next[i][from], t.skip[i][from], t.toBreak[i][from]}
			for to := 0; to < t.l; to++ {
				entries = append(entries, t.stay[i][from][to])
			}
			for _, v := range entries {
				if err := checkEntry(i, from, v); err != nil {
					return err
				}
			}
			if err := checkRow(i, from, t.RowSum(i, from)); err != nil {
				return err
			}
		}
	}

	for _, v := range []float64{t.breakStay, t.resume} {
		if err := checkEntry(t.n, 0, v); err != nil {
			return err
		}
	}
	return checkRow(t.n, 0, t.RowSum(t.n, 0))
}

// N is the pause index
func (t *Transitions) N() int { return t.n }

// SubStates is L
func (t *Transitions) SubStates() int { return t.l }

// Tempo is the tempo the self loops were built for
func (t *Transitions) Tempo() float64 { return t.bpm }

// SelfLoop is a[i,0,i,0]
func (t *Transitions) SelfLoop() float64 { return t.selfLoop }

// Resume is a[N,0,i,0]
func (t *Transitions) Resume() float64 { return t.resume }

// BreakStay is a[N,0,N,0]
func (t *Transitions) BreakStay() float64 { return t.breakStay }

// At is the dense view a[j,from,i,to]
func (t *Transitions) At(j, from, i, to int) float64 {
	if j < 0 || j > t.n || i < 0 || i > t.n || from < 0 || from >= t.l || to < 0 || to >= t.l {
		return 0
	}

	if j == t.n {
		switch {
		case from != 0 || to != 0:
			return 0
		case i == t.n:
			return t.breakStay
		default:
			return t.resume
		}
	}

	if i == t.n {
		if to != 0 {
			return 0
		}
		return t.toBreak[j][from]
	}

	switch i - j {
	case 0:
		return t.stay[j][from][to]
	case 1:
		if to == 0 {
			return t.next[j][from]
		}
	case 2:
		if to == 0 {
			return t.skip[j][from]
		}
	}
	return 0
}

// RowSum is the total outgoing probability of (j, from)
func (t *Transitions) RowSum(j, from int) float64 {
	if j < 0 || j > t.n || from < 0 || from >= t.l {
		return 0
	}
	if j == t.n {
		if from != 0 {
			return 0
		}
		return t.breakStay + float64(t.n)*t.resume
	}
	return t.rowSum(j, from, t.stay[j], t.next[j])
}
