package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-follow/follower"
	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func event(frame int) follower.Event {
	return follower.Event{
		SessionID:     "session-1",
		Frame:         frame,
		Index:         frame,
		Note:          frame,
		Stable:        true,
		Tempo:         60,
		Accompaniment: []int{57, -1},
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(event(3))
	assert.Equal(t, MessageAccompaniment, m.Type)
	assert.Equal(t, "session-1", m.Session)
	assert.Equal(t, map[string]int{"inst0": 57, "inst1": -1}, m.Data)
	assert.Equal(t, 3, m.Index)

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"accompaniment"`)
	assert.Contains(t, string(raw), `"data":{"inst0":57,"inst1":-1}`)
}

func TestHubDropsOldestForSlowSubscribers(t *testing.T) {
	h := NewHub(2)
	slow := h.Subscribe()

	for frame := 0; frame < 5; frame++ {
		h.Publish(event(frame))
	}
	assert.Equal(t, int64(3), slow.Dropped())

	assert.Equal(t, 3, (<-slow.C()).Frame)
	assert.Equal(t, 4, (<-slow.C()).Frame)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 4, latest.Frame)

	h.Unsubscribe(slow)
	_, open := <-slow.C()
	assert.False(t, open)
	assert.Zero(t, h.Subscribers())
}

func TestHubClose(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe()
	h.Close()

	_, open := <-sub.C()
	assert.False(t, open)

	// publishing after close is a no-op
	h.Publish(event(1))
	_, ok := h.Latest()
	assert.False(t, ok)

	late := h.Subscribe()
	_, open = <-late.C()
	assert.False(t, open)
}

func TestServerEndpoints(t *testing.T) {
	s, err := score.Builtin("twinkle")
	require.NoError(t, err)
	hub := NewHub(8)
	ts := httptest.NewServer(NewServer("", hub, s).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/position")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	hub.Publish(event(7))
	resp, err = http.Get(ts.URL + "/position")
	require.NoError(t, err)
	var ev follower.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ev))
	resp.Body.Close()
	assert.Equal(t, 7, ev.Frame)

	resp, err = http.Get(ts.URL + "/score")
	require.NoError(t, err)
	var view ScoreView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	resp.Body.Close()
	assert.Equal(t, "Twinkle Twinkle Little Star", view.Title)
	assert.Equal(t, 17, view.Summary.Events)
	assert.Len(t, view.Events, 17)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://headset.local")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStream(t *testing.T) {
	hub := NewHub(8)
	ts := httptest.NewServer(NewServer("", hub, nil).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, 1, hub.Subscribers())
	for frame := 0; frame < 3; frame++ {
		hub.Publish(event(frame))
	}

	for frame := 0; frame < 3; frame++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		assert.Equal(t, frame, m.Frame)
		assert.Equal(t, MessageAccompaniment, m.Type)
		assert.Equal(t, 57, m.Data["inst0"])
	}

	// closing the hub ends the stream
	hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
