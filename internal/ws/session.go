// Package ws carries the change-feed and ephemeral channels to connected
// clients over a WebSocket. Each connection is one Session: a set of feed
// subscriptions filtered to the actor, plus whatever channel scopes the
// client joins. Delivery is best-effort; a session that cannot keep up
// loses frames and reloads from the HTTP API.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/call"
	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/presence"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

// Outbound event types.
const (
	EventMessageNew          = "message_new"
	EventConversationUpdated = "conversation_updated"
	EventMessagesRead        = "messages_read"
	EventCallIncoming        = "call_incoming"
	EventCallUpdated         = "call_updated"
	EventNotificationNew     = "notification_new"
	EventPresenceSync        = "presence_sync"
)

// Event is an outbound frame.
type Event struct {
	Type  string      `json:"type"`
	Scope string      `json:"scope,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Frame is an inbound client frame.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type joinPayload struct {
	Scope  string `json:"scope"`
	Status string `json:"status,omitempty"`
}

type leavePayload struct {
	Scope string `json:"scope"`
}

type typingPayload struct {
	Scope  string `json:"scope"`
	Typing bool   `json:"typing"`
}

type signalPayload struct {
	CallID  string          `json:"call_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Deps are the collaborators a session needs.
type Deps struct {
	Store    store.DataStore
	Bus      *feed.Bus
	Channels *realtime.Channels
	Tracker  *presence.Tracker
	Calls    *call.Coordinator
	Logger   zerolog.Logger
}

// Session is one actor's live connection.
type Session struct {
	actor *auth.Actor
	conn  *websocket.Conn
	deps  Deps

	send   chan Event
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	convs   map[string]bool   // conversation ids the actor participates in
	scopes  map[string]func() // joined channel scopes -> subscription cancel
	cancels []func()          // feed subscription cancels
}

// NewSession wraps an accepted connection for an authenticated actor.
func NewSession(actor *auth.Actor, conn *websocket.Conn, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		actor:  actor,
		conn:   conn,
		deps:   deps,
		send:   make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
		convs:  make(map[string]bool),
		scopes: make(map[string]func()),
	}
}

// Run serves the session until the client disconnects or ctx is
// cancelled. It blocks; cleanup is complete when it returns.
func (s *Session) Run(ctx context.Context) {
	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()
	defer s.teardown()

	if err := s.loadConversations(ctx); err != nil {
		s.deps.Logger.Error().Err(err).Str("actor_id", s.actor.ID.String()).Msg("session conversation load failed")
		s.conn.Close(websocket.StatusInternalError, "init failed")
		return
	}
	s.subscribeFeed()

	go s.writeLoop()
	go s.keepAliveLoop()

	s.readLoop(ctx)
}

// loadConversations seeds the membership set used to filter feed events.
func (s *Session) loadConversations(ctx context.Context) error {
	convs, err := s.deps.Store.ListConversations(ctx, s.actor.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, conv := range convs {
		s.convs[conv.ID.String()] = true
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) inConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs[id]
}

// subscribeFeed registers the per-actor feed subscriptions. Filters run on
// the publisher's goroutine, so they only inspect event fields and the
// session's membership set. The conversation filter also records new
// memberships before returning: the conversation event is published before
// any message in it, so by the time the message filter runs the set already
// knows the conversation.
func (s *Session) subscribeFeed() {
	actorID := s.actor.ID
	actorStr := actorID.String()

	messages, cancelMessages := s.deps.Bus.Subscribe(feed.Messages, []feed.Kind{feed.Insert}, func(ev feed.Event) bool {
		return ev.Message != nil &&
			(ev.Message.SenderID == actorStr || s.inConversation(ev.Message.ConversationID))
	})
	conversations, cancelConversations := s.deps.Bus.Subscribe(feed.Conversations, nil, func(ev feed.Event) bool {
		if ev.Conversation == nil || !ev.Conversation.HasParticipant(actorID) {
			return false
		}
		s.mu.Lock()
		s.convs[ev.Conversation.ID.String()] = true
		s.mu.Unlock()
		return true
	})
	reads, cancelReads := s.deps.Bus.Subscribe(feed.MessageReads, nil, func(ev feed.Event) bool {
		return ev.ReadReceipt != nil && s.inConversation(ev.ReadReceipt.ConversationID)
	})
	calls, cancelCalls := s.deps.Bus.Subscribe(feed.Calls, nil, func(ev feed.Event) bool {
		return ev.Call != nil && ev.Call.Involves(actorID)
	})
	notifications, cancelNotifications := s.deps.Bus.Subscribe(feed.Notifications, []feed.Kind{feed.Insert}, func(ev feed.Event) bool {
		return ev.Notification != nil && ev.Notification.UserID == actorID
	})

	s.mu.Lock()
	s.cancels = append(s.cancels,
		cancelMessages, cancelConversations, cancelReads, cancelCalls, cancelNotifications)
	s.mu.Unlock()

	go s.pumpFeed(messages, conversations, reads, calls, notifications)
}

// pumpFeed translates feed events into outbound frames.
func (s *Session) pumpFeed(messages, conversations, reads, calls, notifications <-chan feed.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-messages:
			s.enqueue(Event{Type: EventMessageNew, Data: ev.Message})
		case ev := <-conversations:
			s.enqueue(Event{Type: EventConversationUpdated, Data: ev.Conversation})
		case ev := <-reads:
			s.enqueue(Event{Type: EventMessagesRead, Data: ev.ReadReceipt})
		case ev := <-calls:
			s.enqueueCall(ev)
		case ev := <-notifications:
			s.enqueue(Event{Type: EventNotificationNew, Data: ev.Notification})
		}
	}
}

// enqueueCall distinguishes an incoming ring from a status change. The
// incoming frame carries the caller's profile, so the callee can render
// the ring screen without a round-trip.
func (s *Session) enqueueCall(ev feed.Event) {
	if ev.Kind == feed.Insert && ev.Call.Recipient == s.actor.ID {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		caller, err := s.deps.Store.GetProfile(ctx, ev.Call.CallerID)
		cancel()
		if err != nil {
			s.deps.Logger.Warn().Err(err).Msg("caller profile lookup failed")
		}
		s.enqueue(Event{Type: EventCallIncoming, Data: map[string]interface{}{
			"call":   ev.Call,
			"caller": caller,
		}})
		return
	}
	s.enqueue(Event{Type: EventCallUpdated, Data: ev.Call})
}

// enqueue hands a frame to the write loop without blocking.
func (s *Session) enqueue(ev Event) {
	select {
	case s.send <- ev:
	default:
		// Slow consumer: drop. The HTTP API remains authoritative.
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := wsjson.Write(writeCtx, s.conn, ev); err != nil {
				cancel()
				s.cancel()
				return
			}
			cancel()
		}
	}
}

func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}

// readLoop consumes inbound frames until the connection drops.
func (s *Session) readLoop(ctx context.Context) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			s.cancel()
			return
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame) {
	switch frame.Type {
	case "join":
		var p joinPayload
		if json.Unmarshal(frame.Payload, &p) != nil || p.Scope == "" {
			return
		}
		s.joinScope(ctx, p.Scope, p.Status)
	case "leave":
		var p leavePayload
		if json.Unmarshal(frame.Payload, &p) != nil || p.Scope == "" {
			return
		}
		s.leaveScope(ctx, p.Scope)
	case "typing":
		var p typingPayload
		if json.Unmarshal(frame.Payload, &p) != nil || p.Scope == "" {
			return
		}
		actorStr := s.actor.ID.String()
		if p.Typing {
			_ = s.deps.Tracker.StartTyping(ctx, p.Scope, actorStr)
		} else {
			_ = s.deps.Tracker.StopTyping(ctx, p.Scope, actorStr)
		}
	case "signal":
		var p signalPayload
		if json.Unmarshal(frame.Payload, &p) != nil {
			return
		}
		callID, err := uuid.Parse(p.CallID)
		if err != nil {
			return
		}
		if err := s.deps.Calls.Relay(ctx, callID, s.actor.ID, p.Type, p.Payload); err != nil {
			s.deps.Logger.Debug().Err(err).Str("call_id", p.CallID).Msg("signal relay rejected")
		}
	}
}

// joinScope announces presence in a scope, subscribes to its events, and
// sends the current roster so the client starts from a known state.
func (s *Session) joinScope(ctx context.Context, scope, status string) {
	s.mu.Lock()
	_, already := s.scopes[scope]
	s.mu.Unlock()

	if !already {
		events, cancelSub := s.deps.Channels.Subscribe(scope)
		s.mu.Lock()
		s.scopes[scope] = cancelSub
		s.mu.Unlock()
		go s.pumpScope(scope, events)
	}

	state := models.PresenceState{
		ActorID:     s.actor.ID.String(),
		DisplayName: s.actor.DisplayName,
		Status:      status,
	}
	if err := s.deps.Tracker.Join(ctx, scope, state); err != nil {
		s.deps.Logger.Warn().Err(err).Str("scope", scope).Msg("presence join failed")
	}

	others, err := s.deps.Tracker.Others(ctx, scope, s.actor.ID.String())
	if err == nil {
		s.enqueue(Event{Type: EventPresenceSync, Scope: scope, Data: others})
	}
}

func (s *Session) leaveScope(ctx context.Context, scope string) {
	s.mu.Lock()
	cancelSub, ok := s.scopes[scope]
	delete(s.scopes, scope)
	s.mu.Unlock()
	if ok {
		cancelSub()
	}
	if err := s.deps.Tracker.Leave(ctx, scope, s.actor.ID.String()); err != nil {
		s.deps.Logger.Warn().Err(err).Str("scope", scope).Msg("presence leave failed")
	}
}

// pumpScope forwards a scope's ephemeral events to the client.
func (s *Session) pumpScope(scope string, events <-chan realtime.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.enqueue(Event{Type: ev.Type, Scope: ev.Scope, Data: ev.Payload})
		}
	}
}

// teardown cancels every subscription and withdraws presence. Runs once,
// when Run returns.
func (s *Session) teardown() {
	s.cancel()

	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	scopes := make(map[string]func(), len(s.scopes))
	for scope, cancelSub := range s.scopes {
		scopes[scope] = cancelSub
	}
	s.scopes = make(map[string]func())
	s.mu.Unlock()

	for _, cancelSub := range cancels {
		cancelSub()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for scope, cancelSub := range scopes {
		cancelSub()
		if err := s.deps.Tracker.Leave(ctx, scope, s.actor.ID.String()); err != nil {
			s.deps.Logger.Warn().Err(err).Str("scope", scope).Msg("presence cleanup failed")
		}
	}

	s.conn.Close(websocket.StatusNormalClosure, "bye")
}
