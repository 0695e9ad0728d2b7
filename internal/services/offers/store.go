package offers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
)

// gormStore implements Store on Postgres. Every conditional operation is a
// single guarded UPDATE checked through RowsAffected, so the decision points
// are atomic at the row level.
type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, offer *models.Offer, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(offer).Error; err != nil {
			return err
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", offer.ConversationID).
			Update("last_activity_at", msg.CreatedAt).Error
	})
}

func (s *gormStore) Get(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	var offer models.Offer
	err := s.db.WithContext(ctx).First(&offer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.CodeNotFound, "offer not found")
	}
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *gormStore) AcquireAcceptLock(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ? AND accepting_at IS NULL", id, models.OfferStatusSent).
		Update("accepting_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ReleaseAcceptLock(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ?", id, models.OfferStatusSent).
		Update("accepting_at", nil).Error
}

func (s *gormStore) FinalizeAccept(ctx context.Context, id uuid.UUID, checkoutURL string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ?", id, models.OfferStatusSent).
		Updates(map[string]interface{}{
			"status":       models.OfferStatusAccepted,
			"checkout_url": checkoutURL,
			"accepting_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) Transition(ctx context.Context, id uuid.UUID, from, to models.OfferStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Offer{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ListSentBefore(ctx context.Context, cutoff time.Time) ([]models.Offer, error) {
	var out []models.Offer
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.OfferStatusSent, cutoff).
		Find(&out).Error
	return out, err
}

func (s *gormStore) ListStaleLocks(ctx context.Context, cutoff time.Time) ([]models.Offer, error) {
	var out []models.Offer
	err := s.db.WithContext(ctx).
		Where("status = ? AND accepting_at IS NOT NULL AND accepting_at <= ?", models.OfferStatusSent, cutoff).
		Find(&out).Error
	return out, err
}

func (s *gormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_activity_at", msg.CreatedAt).Error
	})
}

func (s *gormStore) SyncOfferMessage(ctx context.Context, offer *models.Offer) (*models.Message, error) {
	var msg models.Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND kind = ? AND payload->>'offer_id' = ?",
			offer.ConversationID, models.MessageKindOffer, offer.ID.String()).
		First(&msg).Error; err != nil {
		return nil, err
	}

	msg.Payload = offer.MessageSnapshot().JSON()
	if err := s.db.WithContext(ctx).Model(&msg).
		Update("payload", msg.Payload).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}
