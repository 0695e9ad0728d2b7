// internal/realtime/hub.go
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Client struct {
	ID     string
	UserID uuid.UUID
	Send   chan []byte
}

// Hub tracks connected websocket clients on this instance. Sends are
// non-blocking; a subscriber that cannot keep up misses live events and is
// expected to re-fetch history on reconnect.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With().Str("component", "realtime-hub").Logger(),
	}
}

func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

// SendToUser delivers data to every connection of userID on this instance.
func (h *Hub) SendToUser(userID uuid.UUID, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal realtime payload")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.UserID == userID {
			select {
			case client.Send <- payload:
			default:
				// slow consumer, drop rather than block
			}
		}
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.Debug().Str("client", client.ID).Str("user_id", client.UserID.String()).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if old, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(old.Send)
				h.log.Debug().Str("client", client.ID).Msg("client unregistered")
			}
			h.mu.Unlock()
		}
	}
}
