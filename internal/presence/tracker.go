// Package presence publishes actor liveness and typing activity over
// ephemeral channels. Everything here is transient: a dropped event makes
// an indicator look stale for a moment, nothing more.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/realtime"
)

// DefaultTypingIdle is how long after the last keystroke a typing
// indicator clears itself.
const DefaultTypingIdle = 3 * time.Second

// TypingEvent is the payload of typing broadcasts.
type TypingEvent struct {
	ActorID string `json:"actor_id"`
}

// Tracker joins scopes, announces presence, and manages the typing
// debounce timers.
type Tracker struct {
	channels   *realtime.Channels
	typingIdle time.Duration

	mu     sync.Mutex
	typing map[string]*time.Timer // scope + "|" + actor id
}

// NewTracker creates a tracker. typingIdle <= 0 uses DefaultTypingIdle.
func NewTracker(channels *realtime.Channels, typingIdle time.Duration) *Tracker {
	if typingIdle <= 0 {
		typingIdle = DefaultTypingIdle
	}
	return &Tracker{
		channels:   channels,
		typingIdle: typingIdle,
		typing:     make(map[string]*time.Timer),
	}
}

// Join announces the actor's presence in a scope. Re-announce whenever the
// status changes; the channel overwrites the previous entry.
func (t *Tracker) Join(ctx context.Context, scope string, state models.PresenceState) error {
	if state.Status == "" {
		state.Status = models.PresenceOnline
	}
	if state.OnlineAt == 0 {
		state.OnlineAt = time.Now().UnixMilli()
	}
	return t.channels.Track(ctx, scope, state)
}

// Leave drops the actor's presence and clears any pending typing timer.
func (t *Tracker) Leave(ctx context.Context, scope, actorID string) error {
	t.stopTimer(scope, actorID)
	return t.channels.Untrack(ctx, scope, actorID)
}

// Others returns the announced presence of everyone in the scope except
// the actor.
func (t *Tracker) Others(ctx context.Context, scope, selfID string) ([]models.PresenceState, error) {
	byActor, err := t.channels.State(ctx, scope)
	if err != nil {
		return nil, err
	}
	others := make([]models.PresenceState, 0, len(byActor))
	for id, state := range byActor {
		if id == selfID {
			continue
		}
		others = append(others, state)
	}
	return others, nil
}

// StartTyping broadcasts a typing indicator and arms the idle timer. Each
// keystroke re-arms it; after the idle window with no further calls the
// tracker issues StopTyping on the actor's behalf.
func (t *Tracker) StartTyping(ctx context.Context, scope, actorID string) error {
	t.mu.Lock()
	key := scope + "|" + actorID
	if timer, ok := t.typing[key]; ok {
		timer.Stop()
	}
	t.typing[key] = time.AfterFunc(t.typingIdle, func() {
		// Detached from the request; the broadcast is fire-and-forget.
		_ = t.StopTyping(context.Background(), scope, actorID)
	})
	t.mu.Unlock()

	return t.channels.Broadcast(ctx, scope, realtime.EventTypingStart, TypingEvent{ActorID: actorID})
}

// StopTyping clears the typing indicator. Idempotent.
func (t *Tracker) StopTyping(ctx context.Context, scope, actorID string) error {
	t.stopTimer(scope, actorID)
	return t.channels.Broadcast(ctx, scope, realtime.EventTypingStop, TypingEvent{ActorID: actorID})
}

func (t *Tracker) stopTimer(scope, actorID string) {
	t.mu.Lock()
	key := scope + "|" + actorID
	if timer, ok := t.typing[key]; ok {
		timer.Stop()
		delete(t.typing, key)
	}
	t.mu.Unlock()
}

// Shutdown stops every pending typing timer.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	for key, timer := range t.typing {
		timer.Stop()
		delete(t.typing, key)
	}
	t.mu.Unlock()
}
