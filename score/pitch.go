package score

import (
	"fmt"
	"strconv"
	"strings"
)

// Pitch is one of the 12 equal-tempered pitch classes (0=C ... 11=B) or Rest
type Pitch int

const Rest Pitch = -1

const (
	C Pitch = iota
	CSharp
	D
	DSharp
	E
	F
	FSharp
	G
	GSharp
	A
	ASharp
	B
)

var pitchClassNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

var pitchClassByName = map[string]Pitch{
	"C": C, "B#": C,
	"C#": CSharp, "DB": CSharp,
	"D":  D,
	"D#": DSharp, "EB": DSharp,
	"E": E, "FB": E,
	"F": F, "E#": F,
	"F#": FSharp, "GB": FSharp,
	"G":  G,
	"G#": GSharp, "AB": GSharp,
	"A":  A,
	"A#": ASharp, "BB": ASharp,
	"B": B, "CB": B,
}

func (p Pitch) String() string {
	if p.IsRest() {
		return "REST"
	}
	if p < 0 || p > B {
		return fmt.Sprintf("Pitch(%d)", int(p))
	}
	return pitchClassNames[p]
}

// IsRest reports whether p is the rest marker
func (p Pitch) IsRest() bool {
	return p == Rest
}

// Valid reports whether p is Rest or a pitch class
func (p Pitch) Valid() bool {
	return p >= Rest && p <= B
}

// PitchOfKey folds a MIDI key into its pitch class. Negative keys are rests.
func PitchOfKey(key int) Pitch {
	if key < 0 {
		return Rest
	}
	return Pitch(key % 12)
}

// ParsePitch parses a pitch class name such as "F#", "Gb" or "rest".
// A trailing octave number is ignored.
func ParsePitch(name string) (Pitch, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" || n == "REST" || n == "R" {
		return Rest, nil
	}
	n = strings.TrimRight(n, "-0123456789")
	if p, ok := pitchClassByName[n]; ok {
		return p, nil
	}
	return Rest, fmt.Errorf("unknown pitch %q", name)
}

// ParseNoteName converts a scientific pitch name ("A3", "F#4", "Bb2") into
// a MIDI key with C4 = 60. An empty name is a rest and returns -1.
func ParseNoteName(name string) (int, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return -1, nil
	}

	split := strings.IndexFunc(n, func(r rune) bool {
		return r == '-' || (r >= '0' && r <= '9')
	})
	if split <= 0 {
		return -1, fmt.Errorf("note name %q has no octave", name)
	}

	pc, ok := pitchClassByName[strings.ToUpper(n[:split])]
	if !ok {
		return -1, fmt.Errorf("unknown note name %q", name)
	}
	octave, err := strconv.Atoi(n[split:])
	if err != nil {
		return -1, fmt.Errorf("invalid octave in %q: %w", name, err)
	}

	// B#/Cb wrap across the octave boundary
	letter := strings.ToUpper(n[:1])
	switch {
	case letter == "B" && pc == C:
		octave++
	case letter == "C" && pc == B:
		octave--
	}

	key := (octave+1)*12 + int(pc)
	if key < 0 || key > 127 {
		return -1, fmt.Errorf("note %q is outside the MIDI range", name)
	}
	return key, nil
}

// KeyName renders a MIDI key as a scientific pitch name
func KeyName(key int) string {
	if key < 0 {
		return ""
	}
	return fmt.Sprintf("%s%d", pitchClassNames[key%12], key/12-1)
}
