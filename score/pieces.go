package score

import (
	"fmt"
	"sort"
	"strings"
)

const (
	Quarter = 1.0
	Eighth  = 0.5
	Half    = 2.0
)

type piece struct {
	title   string
	tempo   float64
	subBeat float64
	solo    []Note
	// accompaniment as one note name per subdivided event, "" for rests
	accompaniment []string
}

var builtins = map[string]piece{
	"twinkle": {
		title:   "Twinkle Twinkle Little Star",
		tempo:   60,
		subBeat: Quarter,
		solo: line(Quarter, Rest,
			D, D, A, A, B, B, A, A,
			G, G, FSharp, FSharp, E, E, D, D),
		accompaniment: []string{"",
			"A3", "A3", "F#4", "F#4", "G4", "G4", "F#4", "F#4",
			"E4", "E4", "D4", "D4", "A3", "C#4", "D4", "D4"},
	},
	"pachelbel": {
		title:   "Pachelbel's Canon in D",
		tempo:   60,
		subBeat: Eighth,
		solo: append([]Note{RestNote(Eighth)},
			line(Half, FSharp, E, D, CSharp, B, A, B, CSharp)...),
		accompaniment: []string{"",
			"D3", "A3", "D4", "F#4", "A2", "E3", "A3", "C#4",
			"B2", "F#4", "B3", "D4", "F#2", "C#3", "F#3", "A3",
			"G2", "D3", "G3", "B3", "D2", "A2", "D3", "F#3",
			"G2", "D3", "G3", "B3", "A2", "E3", "A3", "C#4"},
	},
}

func line(duration float64, pitches ...Pitch) []Note {
	notes := make([]Note, len(pitches))
	for i, p := range pitches {
		notes[i] = NewNote(p, duration)
	}
	return notes
}

// BuiltinNames lists the pieces available through Builtin
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns one of the hand-authored pieces by name
func Builtin(name string) (*Score, error) {
	p, ok := builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown piece %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
	}

	part := make([]Note, len(p.accompaniment))
	for i, name := range p.accompaniment {
		key, err := ParseNoteName(name)
		if err != nil {
			return nil, fmt.Errorf("piece %s: %w", p.title, err)
		}
		part[i] = KeyNote(key, p.subBeat)
	}

	return NewScore(p.title, p.tempo, p.subBeat, p.solo, part)
}
