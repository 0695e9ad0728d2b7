package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceRequestStatus string

const (
	RequestStatusOpen   ServiceRequestStatus = "open"
	RequestStatusClosed ServiceRequestStatus = "closed"
)

// ServiceRequest is a job posted by a client. Professionals open a
// conversation against it to negotiate.
type ServiceRequest struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID uuid.UUID `gorm:"type:uuid;index" json:"client_id"`

	Title       string               `gorm:"not null" json:"title"`
	Description string               `gorm:"type:text" json:"description"`
	Category    string               `gorm:"type:varchar(60);index" json:"category"`
	City        string               `gorm:"type:varchar(80)" json:"city"`
	Status      ServiceRequestStatus `gorm:"type:varchar(20);default:'open';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Client *User `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

func (r *ServiceRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
