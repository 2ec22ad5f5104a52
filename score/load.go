package score

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-follow/config"
)

type scoreDocument struct {
	Title   string           `json:"title"`
	Tempo   float64          `json:"tempo"`
	SubBeat float64          `json:"sub_beat"`
	Notes   []noteDocument   `json:"notes"`
	Parts   [][]noteDocument `json:"parts,omitempty"`
}

// A note gives either a pitch class ("F#"), a note name ("F#4") or a MIDI key
type noteDocument struct {
	Pitch    string  `json:"pitch,omitempty"`
	Note     string  `json:"note,omitempty"`
	Key      *int    `json:"key,omitempty"`
	Duration float64 `json:"duration"`
}

func (d noteDocument) toNote() (Note, error) {
	switch {
	case d.Key != nil:
		return KeyNote(*d.Key, d.Duration), nil
	case d.Note != "":
		key, err := ParseNoteName(d.Note)
		if err != nil {
			return Note{}, err
		}
		return KeyNote(key, d.Duration), nil
	default:
		p, err := ParsePitch(d.Pitch)
		if err != nil {
			return Note{}, err
		}
		return NewNote(p, d.Duration), nil
	}
}

func toNotes(docs []noteDocument) ([]Note, error) {
	notes := make([]Note, len(docs))
	for i, d := range docs {
		n, err := d.toNote()
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		notes[i] = n
	}
	return notes, nil
}

// LoadJSON reads a hand-authored score document
func LoadJSON(r io.Reader) (*Score, error) {
	var doc scoreDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, config.Wrap("score", err, "invalid score document")
	}

	solo, err := toNotes(doc.Notes)
	if err != nil {
		return nil, config.Wrap("score", err, "solo line")
	}
	parts := make([][]Note, 0, len(doc.Parts))
	for p, partDoc := range doc.Parts {
		part, err := toNotes(partDoc)
		if err != nil {
			return nil, config.Wrap("score", err, "part %d", p)
		}
		parts = append(parts, part)
	}

	if doc.SubBeat == 0 {
		doc.SubBeat = Quarter
	}
	return NewScore(doc.Title, doc.Tempo, doc.SubBeat, solo, parts...)
}

// LoadFile loads a score from a JSON document or a standard MIDI file,
// chosen by extension
func LoadFile(path string, opts MIDIOptions) (*Score, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi":
		return LoadMIDI(path, opts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open score: %w", err)
	}
	defer f.Close()

	s, err := LoadJSON(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load score %s: %w", path, err)
	}
	return s, nil
}

// Load resolves a built-in piece name first and a file path otherwise
func Load(nameOrPath string, opts MIDIOptions) (*Score, error) {
	if _, ok := builtins[strings.ToLower(nameOrPath)]; ok {
		return Builtin(nameOrPath)
	}
	return LoadFile(nameOrPath, opts)
}
