package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// handleEvents upgrades to a WebSocket and forwards the event bus to
// the client as JSON messages until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	eventCh, cancel := s.bus.Subscribe(64)
	defer cancel()

	s.logger.Info("event feed connected", "remote", r.RemoteAddr)

	// Reader goroutine: drain control frames and detect disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-eventCh:
			if err := conn.WriteJSON(ev); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("event feed closed", "remote", r.RemoteAddr)
				} else {
					s.logger.Debug("event feed write failed", "error", err)
				}
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
