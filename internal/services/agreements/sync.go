// Package agreements derives the scheduling-facing agreement record from
// offer state. Writes are idempotent upserts keyed on
// (request_id, professional_id) and never move a record backwards.
package agreements

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chambalink/backend/internal/models"
)

// StatusFor maps offer status to the coarser agreement view. Expired and
// canceled both count as rejected for scheduling purposes.
func StatusFor(s models.OfferStatus) models.AgreementStatus {
	switch s {
	case models.OfferStatusAccepted:
		return models.AgreementStatusAccepted
	case models.OfferStatusPaid:
		return models.AgreementStatusCompleted
	case models.OfferStatusRejected, models.OfferStatusExpired, models.OfferStatusCanceled:
		return models.AgreementStatusRejected
	default:
		return models.AgreementStatusPending
	}
}

// rank orders agreement statuses for the monotonicity guard: an update may
// never lower the rank. Accepted and rejected are parallel branches at the
// same level, so a duplicated or late cross-delivery cannot flip one into
// the other once completed.
var rank = map[models.AgreementStatus]int{
	models.AgreementStatusPending:   0,
	models.AgreementStatusAccepted:  1,
	models.AgreementStatusRejected:  1,
	models.AgreementStatusCompleted: 2,
}

// Rank exposes the ordering for callers that need to compare.
func Rank(s models.AgreementStatus) int { return rank[s] }

// Store is the persistence boundary. Get returns nil when no agreement
// exists for the pair yet.
type Store interface {
	Get(ctx context.Context, requestID, professionalID uuid.UUID) (*models.Agreement, error)
	Create(ctx context.Context, agreement *models.Agreement) error
	Update(ctx context.Context, agreement *models.Agreement) error
}

type Syncer struct {
	store Store
	log   zerolog.Logger
}

func NewSyncer(store Store, log zerolog.Logger) *Syncer {
	return &Syncer{store: store, log: log.With().Str("component", "agreement-sync").Logger()}
}

// OnOfferTransition mirrors offer state into the agreement record. Safe to
// call more than once per transition and with transitions delivered out of
// order: lower-ranked updates are dropped.
func (s *Syncer) OnOfferTransition(ctx context.Context, offer *models.Offer) error {
	target := StatusFor(offer.Status)

	existing, err := s.store.Get(ctx, offer.RequestID, offer.ProfessionalID)
	if err != nil {
		return err
	}

	if existing == nil {
		agreement := &models.Agreement{
			ID:             uuid.New(),
			RequestID:      offer.RequestID,
			ProfessionalID: offer.ProfessionalID,
			Amount:         offer.Amount,
			Status:         target,
		}
		return s.store.Create(ctx, agreement)
	}

	if rank[target] < rank[existing.Status] {
		s.log.Debug().
			Str("request_id", offer.RequestID.String()).
			Str("have", string(existing.Status)).
			Str("got", string(target)).
			Msg("dropping stale agreement update")
		return nil
	}

	existing.Status = target
	existing.Amount = offer.Amount
	return s.store.Update(ctx, existing)
}
