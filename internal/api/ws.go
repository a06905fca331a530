package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

const wsWriteTimeout = 10 * time.Second

// handleEvents upgrades to a WebSocket and pushes a status document on
// every published state change. Delivery inherits the subscription's
// latest-wins semantics: a slow dashboard sees the newest state, not a
// backlog of intermediate ones.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	states, cancel := s.feed.Subscribe()
	defer cancel()

	// Reads are discarded; the loop exists to notice the peer closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(statusFromState(st, s.feed.Stats())); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
