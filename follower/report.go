package follower

import (
	"sort"

	"github.com/RyanBlaney/sonido-follow/score"
)

// NoteReport compares the frames the follower spent on one coarse note
// with the frames the notated duration predicts at the nominal tempo
type NoteReport struct {
	Note     int     `json:"note"`
	Pitch    string  `json:"pitch"`
	Frames   int     `json:"frames"`
	Expected float64 `json:"expected"`
}

// Report summarises a followed performance
type Report struct {
	Frames      int          `json:"frames"`
	PauseFrames int          `json:"pause_frames"`
	Notes       []NoteReport `json:"notes"` // visited notes in score order
	Coverage    float64      `json:"coverage"`
	MeanFrames  float64      `json:"mean_frames"`
	MeanError   float64      `json:"mean_error"` // mean of frames - expected
	Regressions int          `json:"regressions"`
	FinalTempo  float64      `json:"final_tempo"`
}

// Summarize builds a Report from the events of one run. rate is the
// observation rate in frames per minute.
func Summarize(events []Event, s *score.Score, rate float64) Report {
	r := Report{Frames: len(events)}
	counts := make(map[int]int)
	prev := -1
	for _, ev := range events {
		r.FinalTempo = ev.Tempo
		if ev.Pause || ev.Note < 0 {
			r.PauseFrames++
			continue
		}
		counts[ev.Note]++
		if ev.Note < prev {
			r.Regressions++
		}
		prev = ev.Note
	}

	notes := s.Notes()
	visited := make([]int, 0, len(counts))
	for c := range counts {
		visited = append(visited, c)
	}
	sort.Ints(visited)

	total, errSum := 0, 0.0
	for _, c := range visited {
		expected := 0.0
		if s.Tempo() > 0 {
			expected = s.ExpectedBeats(c) * rate / s.Tempo()
		}
		r.Notes = append(r.Notes, NoteReport{
			Note:     c,
			Pitch:    notes[c].Pitch.String(),
			Frames:   counts[c],
			Expected: expected,
		})
		total += counts[c]
		errSum += float64(counts[c]) - expected
	}

	if len(notes) > 0 {
		r.Coverage = float64(len(visited)) / float64(len(notes))
	}
	if len(visited) > 0 {
		r.MeanFrames = float64(total) / float64(len(visited))
		r.MeanError = errSum / float64(len(visited))
	}
	return r
}
