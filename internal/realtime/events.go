package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/chambalink/backend/internal/models"
)

type EventType string

const (
	EventMessageInserted   EventType = "message.inserted"
	EventMessageUpdated    EventType = "message.updated"
	EventOfferStateChanged EventType = "offer.state_changed"
)

// Event is the envelope delivered to websocket subscribers. Delivery is
// at-least-once: consumers de-duplicate on ID. Ordering holds per
// conversation only.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Type           EventType      `json:"type"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	At             time.Time      `json:"at"`
	Message        *models.Message `json:"message,omitempty"`
	Offer          *models.Offer   `json:"offer,omitempty"`
}

// envelope is the wire form on the Redis bridge, carrying the recipients so
// any instance can deliver to its locally connected participants.
type envelope struct {
	Event      Event       `json:"event"`
	Recipients []uuid.UUID `json:"recipients"`
}

func newEvent(t EventType, conversationID uuid.UUID) Event {
	return Event{
		ID:             uuid.New(),
		Type:           t,
		ConversationID: conversationID,
		At:             time.Now().UTC(),
	}
}
