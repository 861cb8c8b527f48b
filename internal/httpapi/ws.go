package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// The daemon binds to loopback; origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket streams fanout envelopes to one client. The
// subscription is dropped as soon as a write fails or the client closes
// the connection.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	handle, envelopes := s.hub.Subscribe()
	s.logger.Info("websocket client connected", zap.String("handle", handle))

	done := make(chan struct{})

	// Reader: discards client frames, detects close.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.hub.Unsubscribe(handle)
		_ = conn.Close()
		s.logger.Info("websocket client disconnected", zap.String("handle", handle))
	}()

	for {
		select {
		case env, ok := <-envelopes:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				s.logger.Warn("websocket write failed", zap.String("handle", handle), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
