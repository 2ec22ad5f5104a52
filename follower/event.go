package follower

import "sync"

// Event is published once per processed frame
type Event struct {
	SessionID   string  `json:"session"`
	Frame       int     `json:"frame"`
	Index       int     `json:"index"`
	SubState    int     `json:"sub_state"`
	Note        int     `json:"note"` // coarse note, -1 in the pause state
	Pitch       string  `json:"pitch"`
	Pause       bool    `json:"pause"`
	Probability float64 `json:"probability"`
	Tempo       float64 `json:"tempo"`

	// Stable is set when the position moved forward by at most two events
	// since the previous frame, the condition for triggering accompaniment
	Stable bool `json:"stable"`

	// Accompaniment holds one MIDI key per accompaniment part, -1 for a rest.
	// Empty in the pause state.
	Accompaniment []int `json:"accompaniment,omitempty"`
}

// Sink receives events. Publish must not block the follower; slow
// consumers drop events instead.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Recorder keeps every published event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
