package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Proton-105/himera-lend/internal/flows"
	"github.com/Proton-105/himera-lend/internal/txflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

const (
	messageSnapshot = "snapshot"
	messageEvent    = "event"
)

// streamMessage is one frame of the events stream. The first frame carries the
// session snapshot; every later one carries an executor event.
type streamMessage struct {
	Type  string        `json:"type"`
	Flow  *flows.View   `json:"flow,omitempty"`
	Event *txflow.Event `json:"event,omitempty"`
}

type upgrader struct {
	websocket.Upgrader
}

func newUpgrader(origins []string) upgrader {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}

	return upgrader{websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			_, ok := allowed[strings.ToLower(u.Scheme+"://"+u.Host)]
			return ok
		},
	}}
}

// handleEvents streams the executor events of a session until the client
// leaves or the session is evicted.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	session, err := s.flows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("session_id", session.ID), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go readPump(conn, gone)

	view := session.View()
	if err := writeMessage(conn, streamMessage{Type: messageSnapshot, Flow: &view}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-s.streamsDone:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "flow closed"))
				return
			}
			if err := writeMessage(conn, streamMessage{Type: messageEvent, Event: &event}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
