package relay

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RyanBlaney/sonido-follow/follower"
)

// MessageAccompaniment is the type of every position message
const MessageAccompaniment = "accompaniment"

// Message is what remote consumers receive for each frame. Data maps
// "inst0", "inst1", ... to the MIDI key each accompaniment part should
// sound, -1 for silence.
type Message struct {
	Type        string         `json:"type"`
	Session     string         `json:"session"`
	Data        map[string]int `json:"data"`
	Frame       int            `json:"frame"`
	Index       int            `json:"index"`
	Note        int            `json:"note"`
	Pause       bool           `json:"pause"`
	Stable      bool           `json:"stable"`
	Tempo       float64        `json:"tempo"`
	Probability float64        `json:"probability"`
}

// NewMessage converts a follower event
func NewMessage(ev follower.Event) Message {
	data := make(map[string]int, len(ev.Accompaniment))
	for i, key := range ev.Accompaniment {
		data[fmt.Sprintf("inst%d", i)] = key
	}
	return Message{
		Type:        MessageAccompaniment,
		Session:     ev.SessionID,
		Data:        data,
		Frame:       ev.Frame,
		Index:       ev.Index,
		Note:        ev.Note,
		Pause:       ev.Pause,
		Stable:      ev.Stable,
		Tempo:       ev.Tempo,
		Probability: ev.Probability,
	}
}

// Subscriber is one consumer's bounded mailbox. When it is full the
// oldest message is discarded.
type Subscriber struct {
	ch      chan Message
	dropped atomic.Int64
}

// C delivers messages; it is closed on Unsubscribe or Hub.Close
func (s *Subscriber) C() <-chan Message { return s.ch }

// Dropped counts messages discarded because the consumer fell behind
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) offer(m Message) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Hub fans follower events out to subscribers without ever blocking the
// follower. It implements follower.Sink.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
	latest *follower.Event
	closed bool
}

// NewHub creates a hub whose subscribers buffer up to buffer messages
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Publish records ev as the latest position and offers it to every
// subscriber
func (h *Hub) Publish(ev follower.Event) {
	m := NewMessage(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = &ev
	for s := range h.subs {
		s.offer(m)
	}
}

// Subscribe registers a new consumer
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Message, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Unsubscribe removes s and closes its channel
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Latest returns the most recent event
func (h *Hub) Latest() (follower.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return follower.Event{}, false
	}
	return *h.latest, true
}

// Subscribers is the number of connected consumers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber; later publishes are ignored
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}
