package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/RyanBlaney/sonido-follow/logging"
	"github.com/RyanBlaney/sonido-follow/score"
)

const writeTimeout = 5 * time.Second

// ScoreView is the JSON form of the score served at /score
type ScoreView struct {
	score.Summary
	Events []score.Note `json:"events"`
}

// Server exposes the hub over HTTP: health, latest position, the score and
// a websocket stream of position messages
type Server struct {
	hub      *Hub
	score    *score.Score
	upgrader websocket.Upgrader
	http     *http.Server

	logger logging.Logger
}

// NewServer creates a server for addr; s may be nil
func NewServer(addr string, hub *Hub, s *score.Score) *Server {
	srv := &Server{
		hub:   hub,
		score: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origins are enforced by the CORS layer
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.WithFields(logging.Fields{
			"component": "relay",
			"addr":      addr,
		}),
	}
	srv.http = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler returns the CORS-wrapped router
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/position", s.handlePosition).Methods("GET")
	router.HandleFunc("/score", s.handleScore).Methods("GET")
	router.HandleFunc("/ws", s.handleStream).Methods("GET")

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.hub.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.score == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no score loaded"})
		return
	}
	writeJSON(w, http.StatusOK, ScoreView{
		Summary: s.score.Summary(),
		Events:  s.score.Subdivided(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// subscribe before the handshake completes so no message published
	// after the client connected is missed
	sub := s.hub.Subscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(sub)
		s.logger.Error(err, "Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.WithFields(logging.Fields{
		"remote": r.RemoteAddr,
	})
	logger.Debug("Subscriber connected")

	// the reader only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.Unsubscribe(sub)
		logger.Debug("Subscriber disconnected", logging.Fields{
			"dropped": sub.Dropped(),
		})
	}()

	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

// ListenAndServe serves until Shutdown
func (s *Server) ListenAndServe() error {
	s.logger.Info("Relay listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects subscribers and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}
