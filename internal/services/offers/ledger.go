// Package offers owns the offer state machine:
//
//	sent → accepted | rejected | expired | canceled
//	accepted → paid
//
// Every transition out of `sent` is terminal and exactly one may ever succeed
// per offer. Accept is the only hazardous transition because it calls the
// payment gateway between lock acquire and the terminal write.
package offers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/services/checkout"
)

// Store is the persistence boundary of the ledger. Conditional operations
// return false when the guarded predicate did not hold, with no side effects.
type Store interface {
	Create(ctx context.Context, offer *models.Offer, msg *models.Message) error
	Get(ctx context.Context, id uuid.UUID) (*models.Offer, error)

	// AcquireAcceptLock sets accepting_at only if status = 'sent' AND
	// accepting_at IS NULL.
	AcquireAcceptLock(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ReleaseAcceptLock(ctx context.Context, id uuid.UUID) error
	// FinalizeAccept flips sent → accepted, stores the checkout URL and clears
	// the lock, guarded by status = 'sent'.
	FinalizeAccept(ctx context.Context, id uuid.UUID, checkoutURL string) (bool, error)
	// Transition performs a single conditional write from → to.
	Transition(ctx context.Context, id uuid.UUID, from, to models.OfferStatus) (bool, error)

	ListSentBefore(ctx context.Context, cutoff time.Time) ([]models.Offer, error)
	ListStaleLocks(ctx context.Context, cutoff time.Time) ([]models.Offer, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	// SyncOfferMessage refreshes the status snapshot embedded in the offer's
	// chat message (display only, ordering is untouched) and returns the
	// refreshed message.
	SyncOfferMessage(ctx context.Context, offer *models.Offer) (*models.Message, error)
}

// Gateway is the checkout-session handoff contract.
type Gateway interface {
	CreateSession(ctx context.Context, in checkout.Input) (*checkout.Session, error)
}

// AgreementSync mirrors offer transitions into agreement records.
type AgreementSync interface {
	OnOfferTransition(ctx context.Context, offer *models.Offer) error
}

// Publisher fans mutations out to conversation subscribers. Best effort.
type Publisher interface {
	PublishMessage(clientID, professionalID uuid.UUID, msg *models.Message)
	PublishMessageUpdate(clientID, professionalID uuid.UUID, msg *models.Message)
	PublishOffer(clientID, professionalID uuid.UUID, offer *models.Offer)
}

// Notifier is fire-and-forget; failures never surface.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]interface{})
}

type Config struct {
	Currencies      []string
	TTL             time.Duration
	LockGrace       time.Duration
	CheckoutTimeout time.Duration
	SuccessURL      string
	CancelURL       string
}

type Ledger struct {
	store      Store
	gateway    Gateway
	agreements AgreementSync
	publisher  Publisher
	notifier   Notifier
	cfg        Config
	log        zerolog.Logger
	now        func() time.Time
}

func NewLedger(store Store, gateway Gateway, agreements AgreementSync, publisher Publisher, notifier Notifier, cfg Config, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:      store,
		gateway:    gateway,
		agreements: agreements,
		publisher:  publisher,
		notifier:   notifier,
		cfg:        cfg,
		log:        log.With().Str("component", "offer-ledger").Logger(),
		now:        time.Now,
	}
}

type CreateInput struct {
	Conversation *models.Conversation
	SenderID     uuid.UUID
	Title        string
	Description  string
	Currency     string
	Amount       decimal.Decimal
	ServiceStart *time.Time
	ServiceEnd   *time.Time
}

// NormalizeAmount rounds to two decimals, half away from zero. Zero and
// negative amounts are rejected.
func NormalizeAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	rounded := amount.Round(2)
	if rounded.Sign() <= 0 {
		return decimal.Zero, apperr.New(apperr.CodeInvalidAmount, "amount must be positive")
	}
	return rounded, nil
}

func (l *Ledger) validCurrency(code string) bool {
	for _, c := range l.cfg.Currencies {
		if strings.EqualFold(strings.TrimSpace(c), code) {
			return true
		}
	}
	return false
}

// Create validates and persists a new offer together with its offer-kind chat
// message, then emits the sent state.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*models.Offer, *models.Message, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, nil, apperr.New(apperr.CodeValidation, "title is required")
	}

	amount, err := NormalizeAmount(in.Amount)
	if err != nil {
		return nil, nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" || !l.validCurrency(currency) {
		return nil, nil, apperr.New(apperr.CodeValidation, "currency not supported: "+currency)
	}

	if in.ServiceStart != nil && in.ServiceEnd != nil && !in.ServiceEnd.After(*in.ServiceStart) {
		return nil, nil, apperr.New(apperr.CodeValidation, "service end must be after start")
	}

	offer := &models.Offer{
		ID:             uuid.New(),
		ConversationID: in.Conversation.ID,
		RequestID:      in.Conversation.RequestID,
		ClientID:       in.Conversation.ClientID,
		ProfessionalID: in.Conversation.ProfessionalID,
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Currency:       currency,
		Amount:         amount,
		ServiceStart:   in.ServiceStart,
		ServiceEnd:     in.ServiceEnd,
		Status:         models.OfferStatusSent,
	}

	msg := &models.Message{
		ID:             uuid.New(),
		ConversationID: in.Conversation.ID,
		SenderID:       in.SenderID,
		Kind:           models.MessageKindOffer,
		Payload:        offer.MessageSnapshot().JSON(),
	}

	if err := l.store.Create(ctx, offer, msg); err != nil {
		return nil, nil, err
	}

	l.afterTransition(ctx, offer, "")
	l.publisher.PublishMessage(offer.ClientID, offer.ProfessionalID, msg)
	l.notifier.Notify(ctx, offer.ClientID, "offer_sent", map[string]interface{}{
		"offer_id":        offer.ID.String(),
		"conversation_id": offer.ConversationID.String(),
	})

	return offer, msg, nil
}

// Accept runs the concurrency-safe accept protocol. The returned offer has
// status accepted and a checkout URL. Concurrent callers lose the lock CAS
// and get LOCKED with no side effects.
func (l *Ledger) Accept(ctx context.Context, offerID, callerID uuid.UUID) (*models.Offer, error) {
	offer, err := l.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	// Only the client counterpart may accept.
	if offer.ClientID != callerID {
		return nil, apperr.New(apperr.CodeForbidden, "only the client can accept this offer")
	}
	if offer.Status.Terminal() {
		return nil, apperr.New(apperr.CodeInvalidStatus, "offer is not open for acceptance")
	}

	// Lock acquisition: one conditional write against both predicates at
	// once. Losing here means another accept is in flight or the offer
	// already left `sent`.
	ok, err := l.store.AcquireAcceptLock(ctx, offerID, l.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeLocked, "offer acceptance already in progress")
	}

	session, err := l.createSession(ctx, offer)
	if err != nil {
		// The offer must remain acceptable: clear the lock before
		// surfacing the gateway failure.
		if relErr := l.store.ReleaseAcceptLock(ctx, offerID); relErr != nil {
			l.log.Error().Err(relErr).Str("offer_id", offerID.String()).
				Msg("failed to release accept lock after gateway error; sweep will reclaim")
		}
		return nil, err
	}

	ok, err = l.store.FinalizeAccept(ctx, offerID, session.URL)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Should not happen while holding the lock. Hand the URL back so
		// the caller is not stuck with an orphaned session.
		return nil, apperr.New(apperr.CodeInvalidStatus, "offer left sent state during acceptance").
			WithMeta("checkout_url", session.URL)
	}

	accepted, err := l.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	l.afterTransition(ctx, accepted, "La oferta fue aceptada. Completa el pago para confirmar la contratación.")
	l.notifier.Notify(ctx, accepted.ProfessionalID, "offer_accepted", map[string]interface{}{
		"offer_id": accepted.ID.String(),
	})
	return accepted, nil
}

func (l *Ledger) createSession(ctx context.Context, offer *models.Offer) (*checkout.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CheckoutTimeout)
	defer cancel()

	return l.gateway.CreateSession(ctx, checkout.Input{
		Reference:  "OFR-" + offer.ID.String(),
		Amount:     offer.Amount,
		Currency:   offer.Currency,
		SuccessURL: l.cfg.SuccessURL,
		CancelURL:  l.cfg.CancelURL,
		Metadata: map[string]string{
			"offer_id":        offer.ID.String(),
			"conversation_id": offer.ConversationID.String(),
		},
	})
}

// Reject is the client declining. Single conditional write, no lock phase.
func (l *Ledger) Reject(ctx context.Context, offerID, callerID uuid.UUID) (*models.Offer, error) {
	return l.simpleTransition(ctx, offerID, callerID, roleClient, models.OfferStatusRejected,
		"La oferta fue rechazada.")
}

// Cancel is the issuing professional withdrawing.
func (l *Ledger) Cancel(ctx context.Context, offerID, callerID uuid.UUID) (*models.Offer, error) {
	return l.simpleTransition(ctx, offerID, callerID, roleProfessional, models.OfferStatusCanceled,
		"La oferta fue retirada por el profesional.")
}

type callerRole int

const (
	roleClient callerRole = iota
	roleProfessional
)

func (l *Ledger) simpleTransition(ctx context.Context, offerID, callerID uuid.UUID, role callerRole, to models.OfferStatus, systemText string) (*models.Offer, error) {
	offer, err := l.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}

	switch role {
	case roleClient:
		if offer.ClientID != callerID {
			return nil, apperr.New(apperr.CodeForbidden, "only the client can reject this offer")
		}
	case roleProfessional:
		if offer.ProfessionalID != callerID {
			return nil, apperr.New(apperr.CodeForbidden, "only the issuing professional can cancel this offer")
		}
	}

	ok, err := l.store.Transition(ctx, offerID, models.OfferStatusSent, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidStatus, "offer already left sent state")
	}

	updated, err := l.store.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	l.afterTransition(ctx, updated, systemText)
	return updated, nil
}

// MarkPaid applies the out-of-band payment-captured signal. Redelivery of the
// signal for an already-paid offer is a no-op.
func (l *Ledger) MarkPaid(ctx context.Context, offerID uuid.UUID) (*models.Offer, error) {
	ok, err := l.store.Transition(ctx, offerID, models.OfferStatusAccepted, models.OfferStatusPaid)
	if err != nil {
		return nil, err
	}

	offer, getErr := l.store.Get(ctx, offerID)
	if getErr != nil {
		return nil, getErr
	}

	if !ok {
		if offer.Status == models.OfferStatusPaid {
			return offer, nil
		}
		return nil, apperr.New(apperr.CodeInvalidStatus, "offer is not awaiting payment")
	}

	l.afterTransition(ctx, offer, "Pago recibido. El profesional puede comenzar el trabajo.")
	l.notifier.Notify(ctx, offer.ProfessionalID, "offer_paid", map[string]interface{}{
		"offer_id": offer.ID.String(),
	})
	return offer, nil
}

// afterTransition mirrors the agreement, refreshes the chat snapshot, appends
// an optional system message and fans the new state out. Everything here is
// post-commit and best effort: failures are logged, never propagated.
func (l *Ledger) afterTransition(ctx context.Context, offer *models.Offer, systemText string) {
	if err := l.agreements.OnOfferTransition(ctx, offer); err != nil {
		l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("agreement sync failed")
	}

	if offer.Status.Terminal() {
		msg, err := l.store.SyncOfferMessage(ctx, offer)
		if err != nil {
			l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("offer message snapshot sync failed")
		} else if msg != nil {
			l.publisher.PublishMessageUpdate(offer.ClientID, offer.ProfessionalID, msg)
		}
	}

	if systemText != "" {
		offerID := offer.ID
		msg := &models.Message{
			ID:             uuid.New(),
			ConversationID: offer.ConversationID,
			SenderID:       offer.ProfessionalID,
			Kind:           models.MessageKindSystem,
			Body:           &systemText,
			Payload: models.SystemMessagePayload{
				Event:   "offer_" + string(offer.Status),
				OfferID: &offerID,
			}.JSON(),
		}
		if err := l.store.AppendMessage(ctx, msg); err != nil {
			l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("system message append failed")
		} else {
			l.publisher.PublishMessage(offer.ClientID, offer.ProfessionalID, msg)
		}
	}

	l.publisher.PublishOffer(offer.ClientID, offer.ProfessionalID, offer)
}

// SweepOnce expires sent offers past the TTL and reclaims stale accept locks
// left behind by crashed requests.
func (l *Ledger) SweepOnce(ctx context.Context) {
	now := l.now()

	stale, err := l.store.ListStaleLocks(ctx, now.Add(-l.cfg.LockGrace))
	if err != nil {
		l.log.Error().Err(err).Msg("stale lock scan failed")
	} else {
		for _, offer := range stale {
			if err := l.store.ReleaseAcceptLock(ctx, offer.ID); err != nil {
				l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("stale lock release failed")
				continue
			}
			l.log.Warn().Str("offer_id", offer.ID.String()).Msg("reclaimed stale accept lock")
		}
	}

	expirable, err := l.store.ListSentBefore(ctx, now.Add(-l.cfg.TTL))
	if err != nil {
		l.log.Error().Err(err).Msg("expiry scan failed")
		return
	}
	for _, offer := range expirable {
		ok, err := l.store.Transition(ctx, offer.ID, models.OfferStatusSent, models.OfferStatusExpired)
		if err != nil {
			l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("expire transition failed")
			continue
		}
		if !ok {
			continue // lost to a concurrent transition, nothing to do
		}
		expired, err := l.store.Get(ctx, offer.ID)
		if err != nil {
			l.log.Error().Err(err).Str("offer_id", offer.ID.String()).Msg("reload after expire failed")
			continue
		}
		l.afterTransition(ctx, expired, "La oferta expiró sin respuesta.")
	}
}

// StartSweeper runs SweepOnce on a ticker until ctx is done.
func (l *Ledger) StartSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.SweepOnce(ctx)
			}
		}
	}()
}
