package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel is the pub/sub channel carrying replicated domain events.
const Channel = "chatroom.events"

// publishTimeout bounds the best-effort publish so a slow broker can never
// stall a service goroutine.
const publishTimeout = 2 * time.Second

// ValkeyPublisher replicates domain events over a Valkey pub/sub channel so
// peer nodes can reconstruct fan-out for their own connections.
type ValkeyPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewValkeyPublisher creates a publisher backed by the given client.
func NewValkeyPublisher(rdb *redis.Client, logger zerolog.Logger) *ValkeyPublisher {
	return &ValkeyPublisher{rdb: rdb, log: logger.With().Str("component", "event-publisher").Logger()}
}

// Publish serialises the event and publishes it asynchronously. Errors are
// logged and dropped; replication is best-effort by contract.
func (p *ValkeyPublisher) Publish(_ context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.log.Warn().Err(err).Str("event", string(e.Type)).Msg("Failed to marshal event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
			p.log.Warn().Err(err).Str("event", string(e.Type)).Msg("Failed to publish event")
		}
	}()
}
