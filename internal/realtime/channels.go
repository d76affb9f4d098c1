// Package realtime implements ephemeral channels: named scopes carrying
// presence state and fire-and-forget broadcast events. Nothing here is
// persisted; state exists only while subscriptions are alive and is
// reconstructed per session. A dropped event can only make a presence or
// typing indicator look stale, never corrupt durable state.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/store"
)

// Event types carried on ephemeral channels.
const (
	EventPresenceJoin  = "presence_join"
	EventPresenceLeave = "presence_leave"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventSignal        = "signal"
)

const pubsubChannel = "atelier:rt"

// Event is a transient broadcast on a scope. No delivery guarantee, no
// retry, no persistence.
type Event struct {
	Scope   string          `json:"scope"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type rtEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Channels manages scope subscriptions, presence tracking, and broadcasts.
// With Redis configured, presence lives in TTL'd keys and events mirror
// over pub/sub so every instance sees them; without it, everything is
// in-process.
type Channels struct {
	mu         sync.RWMutex
	subs       map[string]map[int64]chan Event
	nextID     int64
	localState map[string]map[string]models.PresenceState

	redis  *store.RedisStore // nil in single-instance mode
	origin string
	logger zerolog.Logger
}

// NewChannels creates the ephemeral channel registry. redisStore may be nil.
func NewChannels(redisStore *store.RedisStore, logger zerolog.Logger) *Channels {
	return &Channels{
		subs:       make(map[string]map[int64]chan Event),
		localState: make(map[string]map[string]models.PresenceState),
		redis:      redisStore,
		origin:     uuid.NewString(),
		logger:     logger,
	}
}

// Subscribe registers for all events on a scope. The cancel func must be
// called on disconnect so the subscription does not leak.
func (c *Channels) Subscribe(scope string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if _, ok := c.subs[scope]; !ok {
		c.subs[scope] = make(map[int64]chan Event)
	}
	c.subs[scope][id] = ch
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		subs := c.subs[scope]
		if subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(c.subs, scope)
			}
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

// Track announces an actor's presence in a scope. Re-announcing with a new
// status overwrites the previous entry.
func (c *Channels) Track(ctx context.Context, scope string, state models.PresenceState) error {
	metrics.PresenceJoins.Inc()

	if c.redis != nil {
		if err := c.redis.TrackPresence(ctx, scope, state); err != nil {
			return err
		}
	} else {
		c.mu.Lock()
		if _, ok := c.localState[scope]; !ok {
			c.localState[scope] = make(map[string]models.PresenceState)
		}
		c.localState[scope][state.ActorID] = state
		c.mu.Unlock()
	}

	return c.Broadcast(ctx, scope, EventPresenceJoin, state)
}

// Untrack drops an actor's presence entry and announces the leave.
func (c *Channels) Untrack(ctx context.Context, scope, actorID string) error {
	if c.redis != nil {
		if err := c.redis.UntrackPresence(ctx, scope, actorID); err != nil {
			return err
		}
	} else {
		c.mu.Lock()
		if actors, ok := c.localState[scope]; ok {
			delete(actors, actorID)
			if len(actors) == 0 {
				delete(c.localState, scope)
			}
		}
		c.mu.Unlock()
	}

	return c.Broadcast(ctx, scope, EventPresenceLeave, models.PresenceState{ActorID: actorID})
}

// State returns every announced presence in a scope, keyed by actor id.
func (c *Channels) State(ctx context.Context, scope string) (map[string]models.PresenceState, error) {
	if c.redis != nil {
		states, err := c.redis.ScopePresence(ctx, scope)
		if err != nil {
			return nil, err
		}
		byActor := make(map[string]models.PresenceState, len(states))
		for _, s := range states {
			byActor[s.ActorID] = s
		}
		return byActor, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	byActor := make(map[string]models.PresenceState, len(c.localState[scope]))
	for id, s := range c.localState[scope] {
		byActor[id] = s
	}
	return byActor, nil
}

// Broadcast sends a fire-and-forget event to every subscriber of a scope.
func (c *Channels) Broadcast(ctx context.Context, scope, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ev := Event{Scope: scope, Type: eventType, Payload: data}

	c.dispatch(ev)

	if c.redis != nil {
		envData, err := json.Marshal(rtEnvelope{Origin: c.origin, Event: ev})
		if err != nil {
			return err
		}
		if err := c.redis.Client().Publish(ctx, pubsubChannel, envData).Err(); err != nil {
			// Transient events carry no durable value; log and move on.
			c.logger.Warn().Err(err).Str("scope", scope).Msg("ephemeral broadcast mirror failed")
		}
	}
	return nil
}

// dispatch delivers to local subscribers without blocking.
func (c *Channels) dispatch(ev Event) {
	c.mu.RLock()
	subs := c.subs[ev.Scope]
	copies := make([]chan Event, 0, len(subs))
	for _, ch := range subs {
		copies = append(copies, ch)
	}
	c.mu.RUnlock()

	for _, ch := range copies {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run consumes mirrored events from Redis until ctx is cancelled. No-op
// without Redis.
func (c *Channels) Run(ctx context.Context) {
	if c.redis == nil {
		return
	}

	pubsub := c.redis.Client().Subscribe(ctx, pubsubChannel)
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
			var env rtEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				c.logger.Warn().Err(err).Msg("ephemeral channel decode failed")
				continue
			}
			if env.Origin == c.origin {
				continue
			}
			c.dispatch(env.Event)
		}
	}
}
