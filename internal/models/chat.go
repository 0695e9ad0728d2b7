// internal/models/chat.go
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Conversation is the single negotiation thread for a
// (request, client, professional) triple. The composite unique index is the
// source of truth for "same conversation": concurrent ensure calls race on the
// insert and the loser re-reads the winner's row.
type Conversation struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	RequestID      uuid.UUID `gorm:"type:uuid;index;uniqueIndex:uniq_conversation_triple" json:"request_id"`
	ClientID       uuid.UUID `gorm:"type:uuid;index;uniqueIndex:uniq_conversation_triple" json:"client_id"`
	ProfessionalID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:uniq_conversation_triple" json:"professional_id"`

	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Request      *ServiceRequest `gorm:"foreignKey:RequestID" json:"request,omitempty"`
	Client       *User           `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Professional *User           `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
	Messages     []Message       `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Participant reports whether userID is one of the two parties.
func (c *Conversation) Participant(userID uuid.UUID) bool {
	return c.ClientID == userID || c.ProfessionalID == userID
}

// Counterpart returns the other party of the conversation.
func (c *Conversation) Counterpart(userID uuid.UUID) uuid.UUID {
	if userID == c.ClientID {
		return c.ProfessionalID
	}
	return c.ClientID
}

type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindOffer  MessageKind = "offer"
	MessageKindSystem MessageKind = "system"
)

// Message is an append-only chat entry. Ordering within a conversation is
// total via (created_at, id). After creation only the read flag and, for
// offer-kind messages, the embedded status snapshot may change.
type Message struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID   `gorm:"type:uuid;index" json:"conversation_id"`
	SenderID       uuid.UUID   `gorm:"type:uuid;index" json:"sender_id"`
	Kind           MessageKind `gorm:"type:varchar(16);default:'text'" json:"kind"`
	Body           *string     `gorm:"type:text" json:"body,omitempty"`
	Payload        datatypes.JSON `json:"payload,omitempty"`

	IsRead    bool       `gorm:"default:false" json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Sender *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// OfferMessagePayload is the payload of an offer-kind message: a display
// snapshot of the offer at send time, kept current on state changes.
type OfferMessagePayload struct {
	OfferID  uuid.UUID   `json:"offer_id"`
	Title    string      `json:"title"`
	Amount   string      `json:"amount"`
	Currency string      `json:"currency"`
	Status   OfferStatus `json:"status"`
}

// SystemMessagePayload is the payload of a system-kind message.
type SystemMessagePayload struct {
	Event   string     `json:"event"`
	OfferID *uuid.UUID `json:"offer_id,omitempty"`
}

func (p OfferMessagePayload) JSON() datatypes.JSON {
	b, _ := json.Marshal(p)
	return datatypes.JSON(b)
}

func (p SystemMessagePayload) JSON() datatypes.JSON {
	b, _ := json.Marshal(p)
	return datatypes.JSON(b)
}
