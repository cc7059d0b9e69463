package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/keyledger/internal/registry"
)

// WSResponse is a JSON message sent to event stream clients.
type WSResponse struct {
	Type    string      `json:"type"` // "event", "error"
	Payload interface{} `json:"payload"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 256
)

// sinceParam parses the optional ?since= query value.
func sinceParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since")
		return 0, false
	}
	return n, true
}

// handleEvents handles GET /api/events?since=N: recorded notifications.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.reg.Events().Since(since))
}

// handleEventStream handles GET /api/events/ws?since=N. It replays recorded
// events from N and then streams new ones as they are committed.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	since, ok := sinceParam(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe before reading the backlog so nothing committed in between
	// is missed; duplicates are skipped by index.
	live, cancel := s.reg.Events().Subscribe(wsBuffer)
	defer cancel()

	next := since
	send := func(ev registry.Event) bool {
		if ev.Index < next {
			return true
		}
		next = ev.Index + 1
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(WSResponse{Type: "event", Payload: ev}); err != nil {
			s.log.WithError(err).Debug("websocket write failed")
			return false
		}
		return true
	}

	for _, ev := range s.reg.Events().Since(since) {
		if !send(ev) {
			return
		}
	}

	// Clients only read; the reader goroutine notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.WithError(err).Debug("websocket read error")
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if !send(ev) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
