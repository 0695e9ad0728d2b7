package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentEvent records every gateway webhook delivery. Reference is the
// gateway's idempotency key: a redelivered webhook hits the unique index and
// is ignored.
type PaymentEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OfferID   uuid.UUID      `gorm:"type:uuid;index" json:"offer_id"`
	Reference string         `gorm:"type:varchar(64);uniqueIndex" json:"reference"`
	Status    string         `gorm:"type:varchar(20)" json:"status"`
	RawBody   datatypes.JSON `json:"raw_body,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (p *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
