// Package notify pushes fire-and-forget notifications over Redis. Downstream
// senders (email, SMS, push) consume the channel; a failed publish is logged
// and never fails the triggering transition.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log.With().Str("component", "notify").Logger()}
}

func (p *Publisher) Notify(ctx context.Context, userID uuid.UUID, event string, data map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": event,
		"data": data,
	})
	if err != nil {
		p.log.Error().Err(err).Str("event", event).Msg("notification marshal failed")
		return
	}

	if err := p.rdb.Publish(ctx, "notifications:"+userID.String(), payload).Err(); err != nil {
		p.log.Warn().Err(err).Str("event", event).Str("user_id", userID.String()).
			Msg("notification publish failed")
	}
}
