package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AgreementStatus string

const (
	AgreementStatusPending   AgreementStatus = "pending"
	AgreementStatusAccepted  AgreementStatus = "accepted"
	AgreementStatusRejected  AgreementStatus = "rejected"
	AgreementStatusCompleted AgreementStatus = "completed"
)

// Agreement mirrors an offer's commercial terms for downstream scheduling.
// Upserts are keyed on (request_id, professional_id) and never regress a
// more advanced status.
type Agreement struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID      uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_agreement_pair" json:"request_id"`
	ProfessionalID uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_agreement_pair" json:"professional_id"`

	Amount decimal.Decimal `gorm:"type:numeric(12,2)" json:"amount"`
	Status AgreementStatus `gorm:"type:varchar(16);default:'pending';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Agreement) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
