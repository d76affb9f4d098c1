package feed

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const bridgeChannel = "atelier:feed"

// envelope is the wire form of an event on the Redis bridge. The origin
// tag stops an instance from re-dispatching its own events.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Bridge mirrors feed events across instances over Redis pub/sub. Each
// instance publishes its local commits and re-dispatches everyone else's.
type Bridge struct {
	bus    *Bus
	client *redis.Client
	origin string
	logger zerolog.Logger
}

// NewBridge wires a bus to Redis.
func NewBridge(bus *Bus, client *redis.Client, logger zerolog.Logger) *Bridge {
	return &Bridge{
		bus:    bus,
		client: client,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Publish delivers an event locally and mirrors it to the bridge channel.
func (b *Bridge) Publish(ctx context.Context, ev Event) {
	b.bus.Publish(ev)

	data, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		b.logger.Error().Err(err).Str("collection", ev.Collection).Msg("feed bridge encode failed")
		return
	}
	if err := b.client.Publish(ctx, bridgeChannel, data).Err(); err != nil {
		// Local subscribers already got the event; remote instances will
		// catch up from the store on their next reload.
		b.logger.Warn().Err(err).Msg("feed bridge publish failed")
	}
}

// Run consumes the bridge channel until ctx is cancelled, re-dispatching
// remote events on the local bus.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.client.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn().Err(err).Msg("feed bridge decode failed")
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			b.bus.Publish(env.Event)
		}
	}
}
