package handlers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/services/offers"
)

type OfferHandler struct {
	DB       *gorm.DB
	Ledger   *offers.Ledger
	Validate *validator.Validate
	Log      zerolog.Logger
}

func NewOfferHandler(db *gorm.DB, ledger *offers.Ledger, log zerolog.Logger) *OfferHandler {
	return &OfferHandler{
		DB:       db,
		Ledger:   ledger,
		Validate: validator.New(),
		Log:      log.With().Str("component", "offer-handler").Logger(),
	}
}

type createOfferRequest struct {
	Title        string     `json:"title" validate:"required,max=140"`
	Description  string     `json:"description" validate:"max=2000"`
	Amount       string     `json:"amount" validate:"required"`
	Currency     string     `json:"currency" validate:"required,alpha,len=3"`
	ServiceStart *time.Time `json:"service_start"`
	ServiceEnd   *time.Time `json:"service_end"`
}

// CreateOffer posts a priced offer into the conversation. Only the
// professional side may issue offers; the price is parsed as an exact
// decimal, never a float.
func (h *OfferHandler) CreateOffer(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	if conv.ProfessionalID != userUUID {
		return apperr.Respond(c, apperr.New(apperr.CodeForbidden, "only the professional can send offers"))
	}

	var req createOfferRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid request body"})
	}
	if err := h.Validate.Struct(req); err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, err.Error()))
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeInvalidAmount, "amount is not a valid decimal"))
	}

	offer, msg, err := h.Ledger.Create(c.UserContext(), offers.CreateInput{
		Conversation: conv,
		SenderID:     userUUID,
		Title:        req.Title,
		Description:  req.Description,
		Currency:     req.Currency,
		Amount:       amount,
		ServiceStart: req.ServiceStart,
		ServiceEnd:   req.ServiceEnd,
	})
	if err != nil {
		return apperr.Respond(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"offer": offer, "message": msg},
	})
}

// GetOffers lists a conversation's offers, newest first.
func (h *OfferHandler) GetOffers(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	conv, err := participantConversation(h.DB, c, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}

	var list []models.Offer
	if err := h.DB.
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		h.Log.Error().Err(err).Msg("fetch offers")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch offers"})
	}

	return c.JSON(fiber.Map{"success": true, "data": list})
}

// GetOffer returns a single offer visible to its two parties only.
func (h *OfferHandler) GetOffer(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	offerUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, "invalid offer id"))
	}

	var offer models.Offer
	if err := h.DB.First(&offer, "id = ?", offerUUID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Respond(c, apperr.New(apperr.CodeNotFound, "offer not found"))
		}
		h.Log.Error().Err(err).Msg("fetch offer")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to fetch offer"})
	}
	if offer.ClientID != userUUID && offer.ProfessionalID != userUUID {
		return apperr.Respond(c, apperr.New(apperr.CodeForbidden, "offer belongs to another conversation"))
	}

	return c.JSON(fiber.Map{"success": true, "data": offer})
}

func (h *OfferHandler) offerAction(c *fiber.Ctx, action func(uuid.UUID, uuid.UUID) (*models.Offer, error)) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return c.Status(401).JSON(fiber.Map{"success": false, "message": "Unauthorized"})
	}

	offerUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return apperr.Respond(c, apperr.New(apperr.CodeValidation, "invalid offer id"))
	}

	offer, err := action(offerUUID, userUUID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": offer})
}

// AcceptOffer commits the client to the offer and returns it with the
// checkout URL. A concurrent accept loses the lock race and gets a 409.
func (h *OfferHandler) AcceptOffer(c *fiber.Ctx) error {
	return h.offerAction(c, func(offerID, callerID uuid.UUID) (*models.Offer, error) {
		return h.Ledger.Accept(c.UserContext(), offerID, callerID)
	})
}

// RejectOffer is the client declining.
func (h *OfferHandler) RejectOffer(c *fiber.Ctx) error {
	return h.offerAction(c, func(offerID, callerID uuid.UUID) (*models.Offer, error) {
		return h.Ledger.Reject(c.UserContext(), offerID, callerID)
	})
}

// CancelOffer is the issuing professional withdrawing a still-open offer.
func (h *OfferHandler) CancelOffer(c *fiber.Ctx) error {
	return h.offerAction(c, func(offerID, callerID uuid.UUID) (*models.Offer, error) {
		return h.Ledger.Cancel(c.UserContext(), offerID, callerID)
	})
}
