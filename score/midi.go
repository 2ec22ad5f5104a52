package score

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/RyanBlaney/sonido-follow/config"
	"github.com/RyanBlaney/sonido-follow/logging"
)

const defaultMIDITempo = 120.0

// MIDIOptions selects how a standard MIDI file becomes a score
type MIDIOptions struct {
	Title     string  // defaults to the file name
	SoloTrack int     // index among the tracks that contain notes, -1 to use SoloName
	SoloName  string  // track name of the solo line, matched case-insensitively
	SubBeat   float64 // defaults to an eighth note
	Tempo     float64 // overrides the first tempo event when > 0
}

// DefaultMIDIOptions uses the first note track as the solo line
func DefaultMIDIOptions() MIDIOptions {
	return MIDIOptions{SoloTrack: 0, SubBeat: Eighth}
}

type noteSpan struct {
	key        int
	start, end uint64
}

type noteTrack struct {
	name  string
	spans []noteSpan
}

// LoadMIDI imports a standard MIDI file. The solo track is reduced to its
// highest sounding line, every other note track becomes an accompaniment
// part and gaps become rests.
func LoadMIDI(path string, opts MIDIOptions) (*Score, error) {
	logger := logging.WithFields(logging.Fields{
		"component": "score",
		"function":  "LoadMIDI",
		"file":      filepath.Base(path),
	})

	mf, err := readMIDIFile(path)
	if err != nil {
		return nil, err
	}

	ticks, ok := mf.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, config.Errorf("score", "unsupported MIDI time format %v, expected metric ticks", mf.TimeFormat)
	}
	resolution := float64(ticks)

	tracks := extractNoteTracks(mf)
	if len(tracks) == 0 {
		return nil, config.Errorf("score", "%s contains no notes", path)
	}

	solo, err := pickSolo(tracks, opts)
	if err != nil {
		return nil, err
	}

	subBeat := opts.SubBeat
	if subBeat <= 0 {
		subBeat = Eighth
	}
	tempo := opts.Tempo
	if tempo <= 0 {
		tempo = firstTempo(mf)
	}
	title := opts.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	soloLine := topLine(tracks[solo].spans, resolution, subBeat)
	var parts [][]Note
	for i, t := range tracks {
		if i == solo {
			continue
		}
		parts = append(parts, topLine(t.spans, resolution, subBeat))
	}

	logger.Debug("Imported MIDI score", logging.Fields{
		"solo_track": tracks[solo].name,
		"notes":      len(soloLine),
		"parts":      len(parts),
		"tempo":      tempo,
	})

	return NewScore(title, tempo, subBeat, soloLine, parts...)
}

func readMIDIFile(path string) (mf *smf.SMF, e error) {
	// the smf parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			mf = nil
			e = config.Errorf("score", "failed to parse MIDI file %s: %v", path, r)
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read MIDI file: %w", err)
	}
	mf, err = smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, config.Wrap("score", err, "failed to parse MIDI file %s", path)
	}
	return mf, nil
}

func extractNoteTracks(mf *smf.SMF) []noteTrack {
	var tracks []noteTrack
	for _, track := range mf.Tracks {
		var (
			abs  uint64
			name string
			nt   noteTrack
		)
		open := make(map[int]uint64)

		for _, ev := range track {
			abs += uint64(ev.Delta)
			msg := ev.Message

			var ch, key, vel uint8
			var text string
			switch {
			case msg.GetMetaTrackName(&text):
				name = text
			case msg.GetNoteStart(&ch, &key, &vel):
				open[int(key)] = abs
			case msg.GetNoteEnd(&ch, &key):
				if start, ok := open[int(key)]; ok {
					delete(open, int(key))
					if abs > start {
						nt.spans = append(nt.spans, noteSpan{key: int(key), start: start, end: abs})
					}
				}
			}
		}

		if len(nt.spans) > 0 {
			nt.name = name
			tracks = append(tracks, nt)
		}
	}
	return tracks
}

func pickSolo(tracks []noteTrack, opts MIDIOptions) (int, error) {
	if opts.SoloName != "" {
		for i, t := range tracks {
			if strings.EqualFold(t.name, opts.SoloName) {
				return i, nil
			}
		}
		return 0, config.Errorf("score", "no note track named %q", opts.SoloName)
	}
	if opts.SoloTrack < 0 || opts.SoloTrack >= len(tracks) {
		return 0, config.Errorf("score", "solo track %d out of range (%d note tracks)", opts.SoloTrack, len(tracks))
	}
	return opts.SoloTrack, nil
}

func firstTempo(mf *smf.SMF) float64 {
	best := uint64(0)
	tempo := 0.0
	for _, track := range mf.Tracks {
		var abs uint64
		for _, ev := range track {
			abs += uint64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) && (tempo == 0 || abs < best) {
				best, tempo = abs, bpm
			}
		}
	}
	if tempo <= 0 {
		return defaultMIDITempo
	}
	return tempo
}

// topLine reduces overlapping notes to the highest sounding one and turns
// gaps into rests. Segments shorter than half a sub-beat are folded into
// the previous note.
func topLine(spans []noteSpan, resolution, subBeat float64) []Note {
	bounds := []uint64{0}
	for _, s := range spans {
		bounds = append(bounds, s.start, s.end)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	type segment struct {
		span  int // index into spans, -1 for a rest
		start uint64
		end   uint64
	}
	var segments []segment
	for b := 0; b+1 < len(bounds); b++ {
		t0, t1 := bounds[b], bounds[b+1]
		if t1 == t0 {
			continue
		}
		top := -1
		for i, s := range spans {
			if s.start <= t0 && t0 < s.end && (top < 0 || s.key > spans[top].key) {
				top = i
			}
		}
		if n := len(segments); n > 0 && segments[n-1].span == top {
			segments[n-1].end = t1
			continue
		}
		segments = append(segments, segment{span: top, start: t0, end: t1})
	}

	minTicks := uint64(subBeat * resolution / 2)
	var notes []Note
	for _, seg := range segments {
		beats := float64(seg.end-seg.start) / resolution
		if seg.end-seg.start < minTicks && len(notes) > 0 {
			notes[len(notes)-1].Duration += beats
			continue
		}
		if seg.span < 0 {
			notes = append(notes, RestNote(beats))
			continue
		}
		notes = append(notes, KeyNote(spans[seg.span].key, beats))
	}
	return notes
}
