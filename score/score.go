package score

import (
	"math"

	"github.com/RyanBlaney/sonido-follow/config"
)

// Note is a single score event. Duration is in beats (quarter note = 1).
type Note struct {
	Pitch    Pitch   `json:"pitch"`
	Key      int     `json:"key"` // MIDI key, -1 for rests or when only the pitch class is known
	Duration float64 `json:"duration"`
	IsStart  bool    `json:"is_start,omitempty"`
	IsEnd    bool    `json:"is_end,omitempty"`
}

// NewNote creates a note from a pitch class
func NewNote(p Pitch, duration float64) Note {
	return Note{Pitch: p, Key: -1, Duration: duration}
}

// KeyNote creates a note from a MIDI key. Negative keys are rests.
func KeyNote(key int, duration float64) Note {
	if key < 0 {
		key = -1
	}
	return Note{Pitch: PitchOfKey(key), Key: key, Duration: duration}
}

// RestNote creates a rest
func RestNote(duration float64) Note {
	return NewNote(Rest, duration)
}

// Score is a solo line subdivided into uniform sub-beat events, plus any
// number of accompaniment voices subdivided the same way. It is read-only
// after construction.
type Score struct {
	title   string
	tempo   float64
	subBeat float64

	notes      []Note
	subdivided []Note
	mapping    []int
	parts      [][]Note
}

// Summary is a JSON friendly description of a score
type Summary struct {
	Title   string  `json:"title"`
	Tempo   float64 `json:"tempo"`
	SubBeat float64 `json:"sub_beat"`
	Notes   int     `json:"notes"`
	Events  int     `json:"events"`
	Parts   int     `json:"parts"`
}

// NewScore builds a score. Every voice is subdivided into
// max(1, round(duration/subBeat)) copies and shorter voices are padded with
// rests so that all voices have the same number of events.
func NewScore(title string, tempo, subBeat float64, solo []Note, parts ...[]Note) (*Score, error) {
	if !(tempo > 0) || math.IsInf(tempo, 0) {
		return nil, config.Errorf("score", "tempo must be positive, got %g", tempo)
	}
	if !(subBeat > 0) || math.IsInf(subBeat, 0) {
		return nil, config.Errorf("score", "sub-beat must be positive, got %g", subBeat)
	}
	if len(solo) == 0 {
		return nil, config.Errorf("score", "solo line of %q is empty", title)
	}

	voices := make([][]Note, 0, len(parts)+1)
	voices = append(voices, solo)
	voices = append(voices, parts...)

	longest := 0
	lengths := make([]int, len(voices))
	for v, voice := range voices {
		for i, n := range voice {
			if !(n.Duration > 0) || math.IsInf(n.Duration, 0) {
				return nil, config.Errorf("score", "voice %d note %d has non-positive duration %g", v, i, n.Duration)
			}
			if !n.Pitch.Valid() {
				return nil, config.Errorf("score", "voice %d note %d has invalid pitch %d", v, i, int(n.Pitch))
			}
			lengths[v] += subdivisions(n.Duration, subBeat)
		}
		longest = max(longest, lengths[v])
	}

	s := &Score{title: title, tempo: tempo, subBeat: subBeat}
	for v, voice := range voices {
		coarse := make([]Note, len(voice), len(voice)+1)
		copy(coarse, voice)
		if missing := longest - lengths[v]; missing > 0 {
			coarse = append(coarse, RestNote(float64(missing)*subBeat))
		}

		events, mapping := subdivide(coarse, subBeat)
		if v == 0 {
			s.notes = coarse
			s.subdivided = events
			s.mapping = mapping
			continue
		}
		s.parts = append(s.parts, events)
	}
	return s, nil
}

func subdivisions(duration, subBeat float64) int {
	return max(1, int(math.Round(duration/subBeat)))
}

func subdivide(notes []Note, subBeat float64) ([]Note, []int) {
	var events []Note
	var mapping []int
	for coarse, n := range notes {
		count := subdivisions(n.Duration, subBeat)
		for c := 0; c < count; c++ {
			events = append(events, Note{
				Pitch:    n.Pitch,
				Key:      n.Key,
				Duration: subBeat,
				IsStart:  c == 0,
				IsEnd:    c == count-1,
			})
			mapping = append(mapping, coarse)
		}
	}
	return events, mapping
}

func (s *Score) Title() string    { return s.title }
func (s *Score) Tempo() float64   { return s.tempo }
func (s *Score) SubBeat() float64 { return s.subBeat }

// N is the number of subdivided events. It is also the index of the pause state.
func (s *Score) N() int { return len(s.subdivided) }

// NumParts is the number of accompaniment voices
func (s *Score) NumParts() int { return len(s.parts) }

// Notes returns a copy of the coarse solo line
func (s *Score) Notes() []Note {
	return append([]Note(nil), s.notes...)
}

// Subdivided returns a copy of the subdivided solo line
func (s *Score) Subdivided() []Note {
	return append([]Note(nil), s.subdivided...)
}

// Event returns the subdivided note at i
func (s *Score) Event(i int) (Note, bool) {
	if i < 0 || i >= len(s.subdivided) {
		return Note{}, false
	}
	return s.subdivided[i], true
}

// Pitch returns the expected pitch at subdivided index i. The pause index
// and out-of-range indices are rests.
func (s *Score) Pitch(i int) Pitch {
	if n, ok := s.Event(i); ok {
		return n.Pitch
	}
	return Rest
}

// TrueNoteEvent maps a subdivided index to its 0-based coarse note index.
// It returns -1 for the pause index and out-of-range indices.
func (s *Score) TrueNoteEvent(i int) int {
	if i < 0 || i >= len(s.mapping) {
		return -1
	}
	return s.mapping[i]
}

// ExpectedBeats is the notated duration of coarse note c, 0 when out of range
func (s *Score) ExpectedBeats(c int) float64 {
	if c < 0 || c >= len(s.notes) {
		return 0
	}
	return s.notes[c].Duration
}

// Accompaniment returns one note per accompaniment voice at subdivided index i
func (s *Score) Accompaniment(i int) []Note {
	if i < 0 || i >= len(s.subdivided) {
		return nil
	}
	chord := make([]Note, len(s.parts))
	for p, part := range s.parts {
		chord[p] = part[i]
	}
	return chord
}

// AccompanimentKeys returns the MIDI keys at subdivided index i, -1 for rests
func (s *Score) AccompanimentKeys(i int) []int {
	chord := s.Accompaniment(i)
	if chord == nil {
		return nil
	}
	keys := make([]int, len(chord))
	for p, n := range chord {
		keys[p] = n.Key
		if n.Pitch.IsRest() {
			keys[p] = -1
		}
	}
	return keys
}

// FirstPitched returns the first coarse note that is not a rest
func (s *Score) FirstPitched() (Note, bool) {
	for _, n := range s.notes {
		if !n.Pitch.IsRest() {
			return n, true
		}
	}
	return Note{}, false
}

func (s *Score) Summary() Summary {
	return Summary{
		Title:   s.title,
		Tempo:   s.tempo,
		SubBeat: s.subBeat,
		Notes:   len(s.notes),
		Events:  len(s.subdivided),
		Parts:   len(s.parts),
	}
}
