package agreements

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chambalink/backend/internal/models"
)

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, requestID, professionalID uuid.UUID) (*models.Agreement, error) {
	var agreement models.Agreement
	err := s.db.WithContext(ctx).
		Where("request_id = ? AND professional_id = ?", requestID, professionalID).
		First(&agreement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &agreement, nil
}

// Create tolerates a concurrent insert of the same pair: the unique index
// wins the race and the losing write is a no-op. The next transition for the
// offer re-applies its status through Update.
func (s *gormStore) Create(ctx context.Context, agreement *models.Agreement) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}, {Name: "professional_id"}},
			DoNothing: true,
		}).
		Create(agreement).Error
}

func (s *gormStore) Update(ctx context.Context, agreement *models.Agreement) error {
	return s.db.WithContext(ctx).Model(&models.Agreement{}).
		Where("id = ?", agreement.ID).
		Updates(map[string]interface{}{
			"status": agreement.Status,
			"amount": agreement.Amount,
		}).Error
}
