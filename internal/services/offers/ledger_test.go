package offers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chambalink/backend/internal/apperr"
	"github.com/chambalink/backend/internal/models"
	"github.com/chambalink/backend/internal/services/agreements"
	"github.com/chambalink/backend/internal/services/checkout"
)

// memStore mirrors the conditional-write semantics of the Postgres store
// under a mutex, so accept races can be driven deterministically.
type memStore struct {
	mu       sync.Mutex
	offers   map[uuid.UUID]*models.Offer
	messages []*models.Message
}

func newMemStore() *memStore {
	return &memStore{offers: map[uuid.UUID]*models.Offer{}}
}

func (s *memStore) Create(_ context.Context, offer *models.Offer, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offer.CreatedAt.IsZero() {
		offer.CreatedAt = time.Now()
	}
	cp := *offer
	s.offers[offer.ID] = &cp
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "offer not found")
	}
	cp := *offer
	return &cp, nil
}

func (s *memStore) AcquireAcceptLock(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[id]
	if !ok || offer.Status != models.OfferStatusSent || offer.AcceptingAt != nil {
		return false, nil
	}
	t := at
	offer.AcceptingAt = &t
	return true, nil
}

func (s *memStore) ReleaseAcceptLock(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offer, ok := s.offers[id]; ok && offer.Status == models.OfferStatusSent {
		offer.AcceptingAt = nil
	}
	return nil
}

func (s *memStore) FinalizeAccept(_ context.Context, id uuid.UUID, checkoutURL string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[id]
	if !ok || offer.Status != models.OfferStatusSent {
		return false, nil
	}
	offer.Status = models.OfferStatusAccepted
	offer.CheckoutURL = &checkoutURL
	offer.AcceptingAt = nil
	return true, nil
}

func (s *memStore) Transition(_ context.Context, id uuid.UUID, from, to models.OfferStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offer, ok := s.offers[id]
	if !ok || offer.Status != from {
		return false, nil
	}
	offer.Status = to
	return true, nil
}

func (s *memStore) ListSentBefore(_ context.Context, cutoff time.Time) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Offer
	for _, offer := range s.offers {
		if offer.Status == models.OfferStatusSent && !offer.CreatedAt.After(cutoff) {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (s *memStore) ListStaleLocks(_ context.Context, cutoff time.Time) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Offer
	for _, offer := range s.offers {
		if offer.Status == models.OfferStatusSent && offer.AcceptingAt != nil && !offer.AcceptingAt.After(cutoff) {
			out = append(out, *offer)
		}
	}
	return out, nil
}

func (s *memStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memStore) SyncOfferMessage(_ context.Context, offer *models.Offer) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ConversationID == offer.ConversationID && msg.Kind == models.MessageKindOffer {
			msg.Payload = offer.MessageSnapshot().JSON()
			cp := *msg
			return &cp, nil
		}
	}
	return nil, apperr.New(apperr.CodeNotFound, "offer message not found")
}

// fakeGateway counts sessions and can be told to fail.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	failWith error
}

func (g *fakeGateway) CreateSession(_ context.Context, in checkout.Input) (*checkout.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failWith != nil {
		return nil, g.failWith
	}
	return &checkout.Session{URL: "https://pay.test/" + in.Reference, Reference: in.Reference}, nil
}

type fakeAgreements struct {
	mu    sync.Mutex
	calls []models.OfferStatus
}

func (a *fakeAgreements) OnOfferTransition(_ context.Context, offer *models.Offer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, offer.Status)
	return nil
}

type fakePublisher struct {
	mu         sync.Mutex
	offers     []models.OfferStatus
	msgs       int
	msgUpdates int
}

func (p *fakePublisher) PublishMessage(_, _ uuid.UUID, _ *models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs++
}
func (p *fakePublisher) PublishMessageUpdate(_, _ uuid.UUID, _ *models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgUpdates++
}
func (p *fakePublisher) PublishOffer(_, _ uuid.UUID, offer *models.Offer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, offer.Status)
}

type fakeNotifier struct{}

func (fakeNotifier) Notify(_ context.Context, _ uuid.UUID, _ string, _ map[string]interface{}) {}

type fixture struct {
	ledger     *Ledger
	store      *memStore
	gateway    *fakeGateway
	agreements *fakeAgreements
	publisher  *fakePublisher
	conv       *models.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	gateway := &fakeGateway{}
	agr := &fakeAgreements{}
	pub := &fakePublisher{}

	ledger := NewLedger(store, gateway, agr, pub, fakeNotifier{}, Config{
		Currencies:      []string{"MXN", "USD"},
		TTL:             72 * time.Hour,
		LockGrace:       2 * time.Minute,
		CheckoutTimeout: time.Second,
		SuccessURL:      "https://app.test/ok",
		CancelURL:       "https://app.test/no",
	}, zerolog.Nop())

	conv := &models.Conversation{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		ClientID:       uuid.New(),
		ProfessionalID: uuid.New(),
	}
	return &fixture{ledger: ledger, store: store, gateway: gateway, agreements: agr, publisher: pub, conv: conv}
}

func (f *fixture) sendOffer(t *testing.T) *models.Offer {
	t.Helper()
	offer, msg, err := f.ledger.Create(context.Background(), CreateInput{
		Conversation: f.conv,
		SenderID:     f.conv.ProfessionalID,
		Title:        "Pintar la sala",
		Description:  "Dos manos, material incluido",
		Currency:     "MXN",
		Amount:       decimal.NewFromFloat(2500.00),
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Equal(t, models.MessageKindOffer, msg.Kind)
	return offer
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "rounds half away from zero", in: "10.005", want: "10.01"},
		{name: "keeps two decimals", in: "2500.4", want: "2500.4"},
		{name: "zero rejected", in: "0", wantErr: true},
		{name: "negative rejected", in: "-3.50", wantErr: true},
		{name: "rounds down below half", in: "10.004", want: "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := decimal.NewFromString(tc.in)
			require.NoError(t, err)
			got, err := NormalizeAmount(in)
			if tc.wantErr {
				assert.Equal(t, apperr.CodeInvalidAmount, apperr.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateInput{
		Conversation: f.conv,
		SenderID:     f.conv.ProfessionalID,
		Title:        "Trabajo",
		Currency:     "MXN",
		Amount:       decimal.NewFromInt(100),
	}

	t.Run("missing title", func(t *testing.T) {
		in := base
		in.Title = "   "
		_, _, err := f.ledger.Create(ctx, in)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("unsupported currency", func(t *testing.T) {
		in := base
		in.Currency = "EUR"
		_, _, err := f.ledger.Create(ctx, in)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("currency is case insensitive", func(t *testing.T) {
		in := base
		in.Currency = "mxn"
		offer, _, err := f.ledger.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "MXN", offer.Currency)
	})

	t.Run("service end before start", func(t *testing.T) {
		in := base
		start := time.Now().Add(48 * time.Hour)
		end := start.Add(-time.Hour)
		in.ServiceStart, in.ServiceEnd = &start, &end
		_, _, err := f.ledger.Create(ctx, in)
		assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
	})

	t.Run("non positive amount", func(t *testing.T) {
		in := base
		in.Amount = decimal.Zero
		_, _, err := f.ledger.Create(ctx, in)
		assert.Equal(t, apperr.CodeInvalidAmount, apperr.CodeOf(err))
	})
}

func TestAcceptHappyPath(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	accepted, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)

	assert.Equal(t, models.OfferStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.CheckoutURL)
	assert.Contains(t, *accepted.CheckoutURL, "OFR-"+offer.ID.String())
	assert.Nil(t, accepted.AcceptingAt)
	assert.Equal(t, 1, f.gateway.calls)
}

func TestAcceptRepublishesOfferMessage(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	_, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)

	// Subscribers that render the chat from message events need the refreshed
	// offer snapshot, not just the offer event.
	assert.Equal(t, 1, f.publisher.msgUpdates)

	var snap models.OfferMessagePayload
	require.NoError(t, json.Unmarshal(f.store.messages[0].Payload, &snap))
	assert.Equal(t, models.OfferStatusAccepted, snap.Status)
}

func TestAcceptOnlyByClient(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	_, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ProfessionalID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	_, err = f.ledger.Accept(context.Background(), offer.ID, uuid.New())
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
}

func TestAcceptSingleWinnerUnderContention(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		code := apperr.CodeOf(err)
		assert.Contains(t, []apperr.Code{apperr.CodeLocked, apperr.CodeInvalidStatus}, code)
	}
	assert.Equal(t, 1, wins, "exactly one accept may win")
	assert.Equal(t, 1, f.gateway.calls, "losers must not reach the gateway")

	final, err := f.store.Get(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusAccepted, final.Status)
}

func TestAcceptGatewayFailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)
	f.gateway.failWith = errors.New("gateway down")

	_, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.Error(t, err)

	reloaded, err := f.store.Get(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusSent, reloaded.Status)
	assert.Nil(t, reloaded.AcceptingAt, "lock must be released after a gateway failure")

	// Offer stays acceptable once the gateway recovers.
	f.gateway.failWith = nil
	accepted, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusAccepted, accepted.Status)
}

func TestRejectAndCancelRoles(t *testing.T) {
	f := newFixture(t)

	t.Run("client rejects", func(t *testing.T) {
		offer := f.sendOffer(t)
		_, err := f.ledger.Reject(context.Background(), offer.ID, f.conv.ProfessionalID)
		assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

		rejected, err := f.ledger.Reject(context.Background(), offer.ID, f.conv.ClientID)
		require.NoError(t, err)
		assert.Equal(t, models.OfferStatusRejected, rejected.Status)

		_, err = f.ledger.Reject(context.Background(), offer.ID, f.conv.ClientID)
		assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err))
	})

	t.Run("professional cancels", func(t *testing.T) {
		offer := f.sendOffer(t)
		_, err := f.ledger.Cancel(context.Background(), offer.ID, f.conv.ClientID)
		assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

		canceled, err := f.ledger.Cancel(context.Background(), offer.ID, f.conv.ProfessionalID)
		require.NoError(t, err)
		assert.Equal(t, models.OfferStatusCanceled, canceled.Status)
	})

	t.Run("accepted offer cannot be rejected", func(t *testing.T) {
		offer := f.sendOffer(t)
		_, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
		require.NoError(t, err)

		_, err = f.ledger.Reject(context.Background(), offer.ID, f.conv.ClientID)
		assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err))
	})
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	_, err := f.ledger.MarkPaid(context.Background(), offer.ID)
	assert.Equal(t, apperr.CodeInvalidStatus, apperr.CodeOf(err), "sent offers are not awaiting payment")

	_, err = f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)

	paid, err := f.ledger.MarkPaid(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusPaid, paid.Status)

	// Webhook redelivery is a no-op.
	again, err := f.ledger.MarkPaid(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusPaid, again.Status)
}

func TestSweepExpiresOldOffers(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)
	fresh := f.sendOffer(t)

	f.store.mu.Lock()
	f.store.offers[offer.ID].CreatedAt = time.Now().Add(-80 * time.Hour)
	f.store.mu.Unlock()

	f.ledger.SweepOnce(context.Background())

	expired, err := f.store.Get(context.Background(), offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusExpired, expired.Status)

	kept, err := f.store.Get(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusSent, kept.Status)
}

func TestSweepReclaimsStaleLocks(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	stale := time.Now().Add(-10 * time.Minute)
	ok, err := f.store.AcquireAcceptLock(context.Background(), offer.ID, stale)
	require.NoError(t, err)
	require.True(t, ok)

	// Locked: a competing accept loses immediately.
	_, err = f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	assert.Equal(t, apperr.CodeLocked, apperr.CodeOf(err))

	f.ledger.SweepOnce(context.Background())

	accepted, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusAccepted, accepted.Status)
}

// memAgreementStore backs the real syncer for the lifecycle test.
type memAgreementStore struct {
	mu     sync.Mutex
	byPair map[[2]uuid.UUID]*models.Agreement
}

func (s *memAgreementStore) Get(_ context.Context, requestID, professionalID uuid.UUID) (*models.Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byPair[[2]uuid.UUID{requestID, professionalID}]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *memAgreementStore) Create(_ context.Context, a *models.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]uuid.UUID{a.RequestID, a.ProfessionalID}
	if _, exists := s.byPair[key]; !exists {
		cp := *a
		s.byPair[key] = &cp
	}
	return nil
}

func (s *memAgreementStore) Update(_ context.Context, a *models.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byPair {
		if existing.ID == a.ID {
			existing.Status = a.Status
			existing.Amount = a.Amount
		}
	}
	return nil
}

func TestOfferLifecycleEndToEnd(t *testing.T) {
	store := newMemStore()
	agrStore := &memAgreementStore{byPair: map[[2]uuid.UUID]*models.Agreement{}}
	syncer := agreements.NewSyncer(agrStore, zerolog.Nop())

	ledger := NewLedger(store, &fakeGateway{}, syncer, &fakePublisher{}, fakeNotifier{}, Config{
		Currencies:      []string{"MXN"},
		TTL:             72 * time.Hour,
		LockGrace:       2 * time.Minute,
		CheckoutTimeout: time.Second,
	}, zerolog.Nop())

	conv := &models.Conversation{
		ID:             uuid.New(),
		RequestID:      uuid.New(),
		ClientID:       uuid.New(),
		ProfessionalID: uuid.New(),
	}
	ctx := context.Background()

	offer, _, err := ledger.Create(ctx, CreateInput{
		Conversation: conv,
		SenderID:     conv.ProfessionalID,
		Title:        "Instalación eléctrica",
		Currency:     "MXN",
		Amount:       decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	accepted, err := ledger.Accept(ctx, offer.ID, conv.ClientID)
	require.NoError(t, err)
	require.NotNil(t, accepted.CheckoutURL)

	paid, err := ledger.MarkPaid(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OfferStatusPaid, paid.Status)

	agreement, err := agrStore.Get(ctx, conv.RequestID, conv.ProfessionalID)
	require.NoError(t, err)
	require.NotNil(t, agreement)
	assert.Equal(t, models.AgreementStatusCompleted, agreement.Status)
	assert.True(t, agreement.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestTransitionsFanOut(t *testing.T) {
	f := newFixture(t)
	offer := f.sendOffer(t)

	_, err := f.ledger.Accept(context.Background(), offer.ID, f.conv.ClientID)
	require.NoError(t, err)

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()
	assert.Contains(t, f.publisher.offers, models.OfferStatusSent)
	assert.Contains(t, f.publisher.offers, models.OfferStatusAccepted)
	assert.GreaterOrEqual(t, f.publisher.msgs, 2, "offer message plus system message")

	f.agreements.mu.Lock()
	defer f.agreements.mu.Unlock()
	assert.Contains(t, f.agreements.calls, models.OfferStatusAccepted)
}
