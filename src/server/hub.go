package server

import (
	"net/http"

	"market-stream/src/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop. It owns the client set; cache
// updates arrive through the coalescer so a slow client never stalls the
// stream.
func (s *Server) handleWebsockets() {
	var refresh <-chan struct{}
	if s.deps.Coalescer != nil {
		refresh = s.deps.Coalescer.C()
	}

	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.connections.Store(int64(len(s.clients)))
			welcome := &models.MServerMessage{Type: models.MessageWelcome, ClientID: client.id, Timestamp: nowMillis()}
			if s.deps.State != nil {
				welcome.State = string(s.deps.State.State())
			}
			client.trySend(welcome)

		case client := <-s.unregister:
			s.dropClient(client)

		case message := <-s.broadcast:
			for client := range s.clients {
				if !client.trySend(message) {
					// Client too slow, disconnect to prevent Hub blocking
					s.dropClient(client)
				}
			}

		case <-refresh:
			symbols := s.deps.Coalescer.Drain()
			if len(symbols) == 0 || len(s.clients) == 0 {
				continue
			}
			snaps := s.deps.Cache.Batch(symbols)
			for client := range s.clients {
				if !client.pushRows(snaps) {
					s.dropClient(client)
				}
			}

		case <-s.done:
			for client := range s.clients {
				s.dropClient(client)
			}
			return
		}
	}
}

func (s *Server) dropClient(client *Client) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	s.connections.Store(int64(len(s.clients)))
	client.close()
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(s, conn, uuid.NewString())

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
