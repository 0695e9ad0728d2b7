package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chambalink/backend/internal/models"
)

// NewRedis creates the Redis client shared by the broker and the notify
// publisher.
func NewRedis(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

// Broker publishes conversation events onto per-conversation Redis channels
// and bridges them back into the local hub, so events raised on any instance
// reach subscribers connected anywhere. Publish is fire-and-forget.
type Broker struct {
	hub *Hub
	rdb *redis.Client
	log zerolog.Logger
}

func NewBroker(hub *Hub, rdb *redis.Client, log zerolog.Logger) *Broker {
	return &Broker{hub: hub, rdb: rdb, log: log.With().Str("component", "realtime-broker").Logger()}
}

func channelFor(conversationID uuid.UUID) string {
	return "conv:" + conversationID.String()
}

func (b *Broker) publish(clientID, professionalID uuid.UUID, ev Event) {
	env := envelope{Event: ev, Recipients: []uuid.UUID{clientID, professionalID}}
	payload, err := json.Marshal(env)
	if err != nil {
		b.log.Error().Err(err).Msg("marshal realtime envelope")
		return
	}
	if err := b.rdb.Publish(context.Background(), channelFor(ev.ConversationID), payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("conversation_id", ev.ConversationID.String()).
			Msg("realtime publish failed")
	}
}

func (b *Broker) PublishMessage(clientID, professionalID uuid.UUID, msg *models.Message) {
	ev := newEvent(EventMessageInserted, msg.ConversationID)
	ev.Message = msg
	b.publish(clientID, professionalID, ev)
}

// PublishMessageUpdate covers read-state flips and offer-snapshot refreshes;
// the message content itself is immutable.
func (b *Broker) PublishMessageUpdate(clientID, professionalID uuid.UUID, msg *models.Message) {
	ev := newEvent(EventMessageUpdated, msg.ConversationID)
	ev.Message = msg
	b.publish(clientID, professionalID, ev)
}

func (b *Broker) PublishOffer(clientID, professionalID uuid.UUID, offer *models.Offer) {
	ev := newEvent(EventOfferStateChanged, offer.ConversationID)
	ev.Offer = offer
	b.publish(clientID, professionalID, ev)
}

// RunBridge subscribes to all conversation channels and forwards events to
// locally connected recipients. Runs until ctx is done.
func (b *Broker) RunBridge(ctx context.Context) {
	sub := b.rdb.PSubscribe(ctx, "conv:*")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Error().Err(err).Msg("bad realtime envelope")
				continue
			}
			for _, userID := range env.Recipients {
				b.hub.SendToUser(userID, env.Event)
			}
		}
	}
}
