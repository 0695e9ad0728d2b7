package handlers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/services/checkout"
)

// PaymentEventStore records raw webhook deliveries. Record reports whether
// the event was newly stored or the reference had been seen before.
type PaymentEventStore interface {
	Record(ctx context.Context, event *models.PaymentEvent) (created bool, err error)
}

// PaymentLedger is the slice of the offer ledger the webhook drives.
type PaymentLedger interface {
	MarkPaid(ctx context.Context, offerID uuid.UUID) (*models.Offer, error)
}

type PaymentHandler struct {
	Events  PaymentEventStore
	Gateway *checkout.Client
	Ledger  PaymentLedger
	Log     zerolog.Logger
}

func NewPaymentHandler(db *gorm.DB, gateway *checkout.Client, ledger PaymentLedger, log zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		Events:  &gormEventStore{db: db},
		Gateway: gateway,
		Ledger:  ledger,
		Log:     log.With().Str("component", "payment-handler").Logger(),
	}
}

type gormEventStore struct {
	db *gorm.DB
}

func (s *gormEventStore) Record(ctx context.Context, event *models.PaymentEvent) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

type webhookPayload struct {
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata"`
}

// HandleWebhook receives the gateway's payment notifications. The signature
// covers the raw body. The transition is re-applied on every delivery of a
// paid event: MarkPaid is idempotent, so redeliveries heal a delivery whose
// transition failed after the event row was stored. A failed transition is
// answered with 500 so the gateway retries.
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	signature := c.Get("X-Callback-Signature")
	if signature == "" {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Missing signature"})
	}

	body := c.Body()
	if !h.Gateway.ValidateSignature(signature, body) {
		h.Log.Warn().Msg("webhook with invalid signature")
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid signature"})
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Invalid payload"})
	}

	offerID, err := offerIDFromWebhook(payload)
	if err != nil {
		h.Log.Warn().Str("reference", payload.Reference).Msg("webhook without resolvable offer id")
		return c.Status(400).JSON(fiber.Map{"success": false, "message": "Unknown reference"})
	}

	event := models.PaymentEvent{
		ID:        uuid.New(),
		OfferID:   offerID,
		Reference: payload.Reference,
		Status:    strings.ToLower(payload.Status),
		RawBody:   datatypes.JSON(body),
	}
	created, err := h.Events.Record(c.UserContext(), &event)
	if err != nil {
		h.Log.Error().Err(err).Msg("record payment event")
		return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to record event"})
	}
	if !created {
		h.Log.Debug().Str("reference", payload.Reference).Msg("webhook redelivery")
	}

	if event.Status == "paid" {
		if _, err := h.Ledger.MarkPaid(c.UserContext(), offerID); err != nil {
			h.Log.Error().Err(err).Str("offer_id", offerID.String()).Msg("mark paid from webhook")
			return c.Status(500).JSON(fiber.Map{"success": false, "message": "Failed to apply payment"})
		}
	}

	return c.JSON(fiber.Map{"success": true})
}

// offerIDFromWebhook prefers the metadata echo and falls back to parsing the
// OFR-<uuid> reference.
func offerIDFromWebhook(payload webhookPayload) (uuid.UUID, error) {
	if raw, ok := payload.Metadata["offer_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			return id, nil
		}
	}
	return uuid.Parse(strings.TrimPrefix(payload.Reference, "OFR-"))
}
