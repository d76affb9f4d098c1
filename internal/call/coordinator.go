// Package call drives the call-record state machine:
//
//	ringing -> accepted -> ended
//	ringing -> rejected
//	ringing -> missed   (server-owned timeout)
//
// Terminal states absorb. Transitions are guarded in the store, so a stale
// actor (both parties hanging up at once, a timeout racing an accept)
// fails cleanly instead of resurrecting a finished call. Every transition
// is announced on the change-feed; that is how one party's hang-up reaches
// the other.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

var (
	ErrInvalidKind       = errors.New("call kind must be voice or video")
	ErrCallNotFound      = errors.New("call not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSelfCall          = errors.New("cannot call yourself")
	ErrNotRecipient      = errors.New("only the recipient can answer a call")
	ErrNotInvolved       = errors.New("actor is not a participant of the call")
	ErrInvalidTransition = errors.New("call is no longer in a state that permits this")
	ErrInvalidSignal     = errors.New("signal type must be offer, answer, or candidate")
)

// DefaultRingTimeout is how long a call may ring before it is marked missed.
const DefaultRingTimeout = 30 * time.Second

// Signal is an opaque peer-connection payload relayed over the call's
// ephemeral channel. The coordinator carries offers, answers, and
// candidates between the parties; it never interprets them.
type Signal struct {
	CallID  string          `json:"call_id"`
	FromID  string          `json:"from_id"`
	Type    string          `json:"type"` // "offer", "answer", "candidate"
	Payload json.RawMessage `json:"payload"`
}

// Coordinator owns call records, the missed-call timers, and the signal
// relay.
type Coordinator struct {
	store       store.DataStore
	pub         feed.Publisher
	channels    *realtime.Channels
	ringTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// NewCoordinator creates a coordinator. ringTimeout <= 0 uses
// DefaultRingTimeout.
func NewCoordinator(ds store.DataStore, pub feed.Publisher, channels *realtime.Channels, ringTimeout time.Duration, logger zerolog.Logger) *Coordinator {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Coordinator{
		store:       ds,
		pub:         pub,
		channels:    channels,
		ringTimeout: ringTimeout,
		logger:      logger,
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

// ChannelScope returns the ephemeral channel scope for a call's presence
// and signaling traffic.
func ChannelScope(callID uuid.UUID) string {
	return "call:" + callID.String()
}

// Initiate resolves the recipient, inserts a ringing call record, arms the
// missed-call timer, and announces the insert. Returns the record and the
// recipient's profile summary for the caller's outgoing-call view.
func (c *Coordinator) Initiate(ctx context.Context, callerID, recipientID uuid.UUID, kind string) (*models.Call, *models.Profile, error) {
	if !models.ValidCallKind(kind) {
		return nil, nil, ErrInvalidKind
	}
	if callerID == recipientID {
		return nil, nil, ErrSelfCall
	}

	recipient, err := c.store.GetProfile(ctx, recipientID)
	if err != nil {
		return nil, nil, err
	}
	if recipient == nil {
		return nil, nil, ErrRecipientNotFound
	}

	call := &models.Call{
		CallerID:  callerID,
		Recipient: recipientID,
		Kind:      kind,
		Status:    models.CallStatusRinging,
	}
	if err := c.store.InsertCall(ctx, call); err != nil {
		return nil, nil, err
	}
	metrics.CallsInitiated.WithLabelValues(kind).Inc()

	c.armMissedTimer(call.ID)

	c.pub.Publish(ctx, feed.Event{Collection: feed.Calls, Kind: feed.Insert, Call: call})
	return call, recipient, nil
}

// Accept moves a ringing call to accepted. Only the recipient may answer.
func (c *Coordinator) Accept(ctx context.Context, callID, actorID uuid.UUID) (*models.Call, error) {
	call, err := c.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Recipient != actorID {
		return nil, ErrNotRecipient
	}
	return c.transition(ctx, callID, models.CallStatusRinging, models.CallStatusAccepted, nil, 0)
}

// Reject moves a ringing call to rejected. Only the recipient may decline.
func (c *Coordinator) Reject(ctx context.Context, callID, actorID uuid.UUID) (*models.Call, error) {
	call, err := c.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Recipient != actorID {
		return nil, ErrNotRecipient
	}
	now := time.Now().UTC()
	return c.transition(ctx, callID, models.CallStatusRinging, models.CallStatusRejected, &now, 0)
}

// End hangs up. Either party may end an accepted call; the caller ending a
// still-ringing call also lands on ended (a withdrawn call is not a
// rejection).
func (c *Coordinator) End(ctx context.Context, callID, actorID uuid.UUID) (*models.Call, error) {
	call, err := c.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Involves(actorID) {
		return nil, ErrNotInvolved
	}

	now := time.Now().UTC()
	duration := int(now.Sub(call.StartedAt).Seconds())

	updated, err := c.transition(ctx, callID, models.CallStatusAccepted, models.CallStatusEnded, &now, duration)
	if errors.Is(err, ErrInvalidTransition) {
		// Not yet answered; fall back to hanging up the ring.
		return c.transition(ctx, callID, models.CallStatusRinging, models.CallStatusEnded, &now, 0)
	}
	return updated, err
}

// Get returns a call visible to the actor.
func (c *Coordinator) Get(ctx context.Context, callID, actorID uuid.UUID) (*models.Call, error) {
	call, err := c.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Involves(actorID) {
		return nil, ErrNotInvolved
	}
	return call, nil
}

// Relay broadcasts an opaque signaling payload on the call's ephemeral
// channel. The payload only moves between the two participants.
func (c *Coordinator) Relay(ctx context.Context, callID, actorID uuid.UUID, signalType string, payload json.RawMessage) error {
	if signalType != "offer" && signalType != "answer" && signalType != "candidate" {
		return ErrInvalidSignal
	}

	call, err := c.load(ctx, callID)
	if err != nil {
		return err
	}
	if !call.Involves(actorID) {
		return ErrNotInvolved
	}
	if models.TerminalCallStatus(call.Status) {
		return ErrInvalidTransition
	}

	return c.channels.Broadcast(ctx, ChannelScope(callID), realtime.EventSignal, Signal{
		CallID:  callID.String(),
		FromID:  actorID.String(),
		Type:    signalType,
		Payload: payload,
	})
}

func (c *Coordinator) load(ctx context.Context, callID uuid.UUID) (*models.Call, error) {
	call, err := c.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, ErrCallNotFound
	}
	return call, nil
}

// transition performs a guarded status change, cancels the missed timer on
// terminal outcomes, and announces the update.
func (c *Coordinator) transition(ctx context.Context, callID uuid.UUID, from, to string, endedAt *time.Time, duration int) (*models.Call, error) {
	call, err := c.store.TransitionCall(ctx, callID, from, to, endedAt, duration)
	if err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	metrics.CallTransitions.WithLabelValues(to).Inc()

	if models.TerminalCallStatus(to) || to == models.CallStatusAccepted {
		c.cancelMissedTimer(callID)
	}

	c.pub.Publish(ctx, feed.Event{Collection: feed.Calls, Kind: feed.Update, Call: call})
	return call, nil
}

func (c *Coordinator) armMissedTimer(callID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[callID] = time.AfterFunc(c.ringTimeout, func() {
		c.markMissed(callID)
	})
}

func (c *Coordinator) cancelMissedTimer(callID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[callID]; ok {
		timer.Stop()
		delete(c.timers, callID)
	}
}

// markMissed fires when a call rings out. The guarded transition makes it
// race-safe: if an accept or reject landed first, this is a no-op.
func (c *Coordinator) markMissed(callID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	delete(c.timers, callID)
	c.mu.Unlock()

	now := time.Now().UTC()
	call, err := c.store.TransitionCall(ctx, callID, models.CallStatusRinging, models.CallStatusMissed, &now, 0)
	if err != nil {
		if !errors.Is(err, store.ErrStaleTransition) {
			c.logger.Error().Err(err).Str("call_id", callID.String()).Msg("missed-call transition failed")
		}
		return
	}
	metrics.CallTransitions.WithLabelValues(models.CallStatusMissed).Inc()

	c.notifyMissed(ctx, call)
	c.pub.Publish(ctx, feed.Event{Collection: feed.Calls, Kind: feed.Update, Call: call})
}

// notifyMissed inserts the missed-call notification for the recipient.
func (c *Coordinator) notifyMissed(ctx context.Context, call *models.Call) {
	caller, err := c.store.GetProfile(ctx, call.CallerID)
	name := "Unknown"
	if err == nil && caller != nil {
		name = caller.DisplayName
	}

	n := &models.Notification{
		UserID: call.Recipient,
		Title:  "Missed " + call.Kind + " call",
		Body:   name + " tried to reach you",
		Kind:   models.NotificationKindMissedCall,
	}
	if err := c.store.InsertNotification(ctx, n); err != nil {
		c.logger.Warn().Err(err).Msg("missed-call notification insert failed")
		return
	}
	metrics.NotificationsCreated.WithLabelValues(n.Kind).Inc()
	c.pub.Publish(ctx, feed.Event{Collection: feed.Notifications, Kind: feed.Insert, Notification: n})
}

// Shutdown stops every pending missed-call timer.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
}
