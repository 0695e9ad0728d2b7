package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OfferStatus string

const (
	OfferStatusSent     OfferStatus = "sent"
	OfferStatusAccepted OfferStatus = "accepted"
	OfferStatusRejected OfferStatus = "rejected"
	OfferStatusExpired  OfferStatus = "expired"
	OfferStatusCanceled OfferStatus = "canceled"
	OfferStatusPaid     OfferStatus = "paid"
)

// Terminal reports whether the status permits no further transition besides
// accepted → paid.
func (s OfferStatus) Terminal() bool {
	return s != OfferStatusSent
}

// Offer is a priced proposal inside a conversation. Exactly one transition
// out of `sent` may ever succeed for a given offer; AcceptingAt is the guard
// timestamp of the compare-and-swap accept lock.
type Offer struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	RequestID      uuid.UUID `gorm:"type:uuid;index" json:"request_id"`
	ClientID       uuid.UUID `gorm:"type:uuid;index" json:"client_id"`
	ProfessionalID uuid.UUID `gorm:"type:uuid;index" json:"professional_id"`

	Title       string          `gorm:"not null" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Currency    string          `gorm:"type:varchar(8);not null" json:"currency"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`

	ServiceStart *time.Time `json:"service_start,omitempty"`
	ServiceEnd   *time.Time `json:"service_end,omitempty"`

	Status      OfferStatus `gorm:"type:varchar(16);default:'sent';index" json:"status"`
	AcceptingAt *time.Time  `json:"accepting_at,omitempty"`
	CheckoutURL *string     `gorm:"type:text" json:"checkout_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Conversation *Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
	Client       *User         `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Professional *User         `gorm:"foreignKey:ProfessionalID" json:"professional,omitempty"`
}

func (o *Offer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// MessageSnapshot builds the display payload embedded in the offer's chat
// message.
func (o *Offer) MessageSnapshot() OfferMessagePayload {
	return OfferMessagePayload{
		OfferID:  o.ID,
		Title:    o.Title,
		Amount:   o.Amount.StringFixed(2),
		Currency: o.Currency,
		Status:   o.Status,
	}
}
