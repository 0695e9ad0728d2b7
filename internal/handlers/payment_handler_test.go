package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/services/checkout"
)

const webhookSecret = "test-secret"

type memEventStore struct {
	seen map[string]bool
}

func (s *memEventStore) Record(_ context.Context, event *models.PaymentEvent) (bool, error) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[event.Reference] {
		return false, nil
	}
	s.seen[event.Reference] = true
	return true, nil
}

type flakyLedger struct {
	calls    int
	failUpTo int
}

func (l *flakyLedger) MarkPaid(_ context.Context, offerID uuid.UUID) (*models.Offer, error) {
	l.calls++
	if l.calls <= l.failUpTo {
		return nil, errors.New("db unavailable")
	}
	return &models.Offer{ID: offerID, Status: models.OfferStatusPaid}, nil
}

func newWebhookApp(ledger PaymentLedger) *fiber.App {
	h := &PaymentHandler{
		Events:  &memEventStore{},
		Gateway: checkout.NewClient("https://gw.test", "key", webhookSecret, time.Second),
		Ledger:  ledger,
		Log:     zerolog.Nop(),
	}
	app := fiber.New()
	app.Post("/webhooks/payments", h.HandleWebhook)
	return app
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, app *fiber.App, body []byte, signature string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Callback-Signature", signature)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func paidBody(t *testing.T, offerID uuid.UUID) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"reference": "OFR-" + offerID.String(),
		"status":    "paid",
		"metadata":  map[string]string{"offer_id": offerID.String()},
	})
	require.NoError(t, err)
	return body
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ledger := &flakyLedger{}
	app := newWebhookApp(ledger)
	body := paidBody(t, uuid.New())

	assert.Equal(t, 400, postWebhook(t, app, body, ""))
	assert.Equal(t, 400, postWebhook(t, app, body, "deadbeef"))
	assert.Equal(t, 0, ledger.calls)
}

func TestWebhookMarksPaid(t *testing.T) {
	ledger := &flakyLedger{}
	app := newWebhookApp(ledger)
	body := paidBody(t, uuid.New())

	assert.Equal(t, 200, postWebhook(t, app, body, signBody(body)))
	assert.Equal(t, 1, ledger.calls)
}

func TestWebhookRedeliveryRetriesFailedTransition(t *testing.T) {
	// First delivery stores the event but the transition fails; the gateway
	// must get a 500 so its redelivery can drive the idempotent transition
	// through.
	ledger := &flakyLedger{failUpTo: 1}
	app := newWebhookApp(ledger)
	body := paidBody(t, uuid.New())

	assert.Equal(t, 500, postWebhook(t, app, body, signBody(body)))
	assert.Equal(t, 200, postWebhook(t, app, body, signBody(body)))
	assert.Equal(t, 2, ledger.calls)

	// Redelivery after success is acknowledged.
	assert.Equal(t, 200, postWebhook(t, app, body, signBody(body)))
}

func TestOfferIDFromWebhook(t *testing.T) {
	id := uuid.New()

	got, err := offerIDFromWebhook(webhookPayload{Reference: "OFR-" + id.String()})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = offerIDFromWebhook(webhookPayload{
		Reference: "ignored",
		Metadata:  map[string]string{"offer_id": id.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = offerIDFromWebhook(webhookPayload{Reference: "garbage"})
	assert.Error(t, err)
}
