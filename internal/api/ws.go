package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamConsole upgrades to a WebSocket and tails the console capsule's
// output. Each application write arrives as one binary message.
func (s *Server) streamConsole(c *gin.Context) {
	if s.console == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no console capsule"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	out, detach := s.console.Attach()
	defer detach()

	// Read pump exists only to observe the peer closing.
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
		case chunk, ok := <-out:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
