package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signal-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statusStream pushes connectivity and composite-health transitions to
// monitoring clients.
func (s *Server) statusStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	connectivity, unsubConn := s.Bus.Subscribe(events.EventConnectivity, 100)
	defer unsubConn()
	healthChanges, unsubHealth := s.Bus.Subscribe(events.EventHealthChanged, 100)
	defer unsubHealth()

	// Send the current view first so clients never start blind.
	if s.Health != nil {
		if err := conn.WriteJSON(s.Health.Snapshot()); err != nil {
			return
		}
	}

	for {
		var msg any
		var ok bool
		select {
		case msg, ok = <-connectivity:
		case msg, ok = <-healthChanges:
		}
		if !ok {
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("api: ws write error: %v", err)
			return
		}
	}
}
