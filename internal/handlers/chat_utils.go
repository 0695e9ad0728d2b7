package handlers

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
)

func getUserUUID(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := c.Locals("userId").(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("unauthorized")
	}
	return id, nil
}

// participantConversation loads the conversation in the :id route param and
// verifies the caller is one of its two parties.
func participantConversation(db *gorm.DB, c *fiber.Ctx, userUUID uuid.UUID) (*models.Conversation, error) {
	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, "invalid conversation id")
	}

	var conv models.Conversation
	if err := db.First(&conv, "id = ?", convUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "conversation not found")
		}
		return nil, err
	}
	if !conv.Participant(userUUID) {
		return nil, apperr.New(apperr.CodeForbidden, "not a participant of this conversation")
	}
	return &conv, nil
}
