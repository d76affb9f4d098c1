package ws

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/auth"
	"github.com/atelierhq/atelier/internal/call"
	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/presence"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

// newFeedSession wires a session's feed plumbing without a live
// connection; only the subscription and pump goroutines run.
func newFeedSession(t *testing.T, actorID uuid.UUID, ms *store.MemoryStore, bus *feed.Bus) *Session {
	t.Helper()

	pub := feed.LocalPublisher{Bus: bus}
	channels := realtime.NewChannels(nil, zerolog.Nop())
	tracker := presence.NewTracker(channels, presence.DefaultTypingIdle)
	t.Cleanup(tracker.Shutdown)
	coordinator := call.NewCoordinator(ms, pub, channels, time.Minute, zerolog.Nop())
	t.Cleanup(coordinator.Shutdown)

	s := NewSession(&auth.Actor{ID: actorID, DisplayName: "tester"}, nil, Deps{
		Store:    ms,
		Bus:      bus,
		Channels: channels,
		Tracker:  tracker,
		Calls:    coordinator,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(s.cancel)

	if err := s.loadConversations(context.Background()); err != nil {
		t.Fatalf("load conversations: %v", err)
	}
	s.subscribeFeed()
	return s
}

func expectEvent(t *testing.T, s *Session, wantType string) Event {
	t.Helper()
	select {
	case ev := <-s.send:
		if ev.Type != wantType {
			t.Fatalf("got event %s, want %s", ev.Type, wantType)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("no %s event", wantType)
		return Event{}
	}
}

func expectSilence(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.send:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionReceivesOwnConversationMessagesOnly(t *testing.T) {
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	stranger1 := uuid.New()
	stranger2 := uuid.New()
	for _, id := range []uuid.UUID{alice, bob, stranger1, stranger2} {
		if _, err := ms.UpsertProfile(ctx, id, "p"); err != nil {
			t.Fatal(err)
		}
	}
	mine, _, _ := ms.CreateOrGetConversation(ctx, alice, bob)
	other, _, _ := ms.CreateOrGetConversation(ctx, stranger1, stranger2)

	s := newFeedSession(t, alice, ms, bus)

	bus.Publish(feed.Event{Collection: feed.Messages, Kind: feed.Insert, Message: &models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAA1", ConversationID: other.ID.String(), SenderID: stranger1.String(),
	}})
	expectSilence(t, s)

	bus.Publish(feed.Event{Collection: feed.Messages, Kind: feed.Insert, Message: &models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAA2", ConversationID: mine.ID.String(), SenderID: bob.String(),
	}})
	ev := expectEvent(t, s, EventMessageNew)
	msg, ok := ev.Data.(*models.Message)
	if !ok || msg.ConversationID != mine.ID.String() {
		t.Fatalf("payload wrong: %+v", ev.Data)
	}
}

func TestSessionLearnsNewConversationsFromFeed(t *testing.T) {
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	ctx := context.Background()

	alice := uuid.New()
	carol := uuid.New()
	for _, id := range []uuid.UUID{alice, carol} {
		if _, err := ms.UpsertProfile(ctx, id, "p"); err != nil {
			t.Fatal(err)
		}
	}

	s := newFeedSession(t, alice, ms, bus)

	// Conversation created after connect.
	conv, _, _ := ms.CreateOrGetConversation(ctx, carol, alice)
	bus.Publish(feed.Event{Collection: feed.Conversations, Kind: feed.Insert, Conversation: conv})
	expectEvent(t, s, EventConversationUpdated)

	// Messages in it now reach the session.
	bus.Publish(feed.Event{Collection: feed.Messages, Kind: feed.Insert, Message: &models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAA1", ConversationID: conv.ID.String(), SenderID: carol.String(),
	}})
	expectEvent(t, s, EventMessageNew)
}

func TestSessionIncomingCallCarriesCallerProfile(t *testing.T) {
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()
	if _, err := ms.UpsertProfile(ctx, bob, "Bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := ms.UpsertProfile(ctx, alice, "Alice"); err != nil {
		t.Fatal(err)
	}

	s := newFeedSession(t, alice, ms, bus)

	incoming := &models.Call{ID: uuid.New(), CallerID: bob, Recipient: alice, Kind: "voice", Status: models.CallStatusRinging}
	if err := ms.InsertCall(ctx, incoming); err != nil {
		t.Fatal(err)
	}
	bus.Publish(feed.Event{Collection: feed.Calls, Kind: feed.Insert, Call: incoming})

	ev := expectEvent(t, s, EventCallIncoming)
	data, ok := ev.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("payload shape wrong: %T", ev.Data)
	}
	caller, ok := data["caller"].(*models.Profile)
	if !ok || caller.DisplayName != "Bob" {
		t.Fatalf("caller profile wrong: %+v", data["caller"])
	}

	// Status changes arrive as updates, not rings.
	bus.Publish(feed.Event{Collection: feed.Calls, Kind: feed.Update, Call: incoming})
	expectEvent(t, s, EventCallUpdated)

	// Calls between other members stay invisible.
	bus.Publish(feed.Event{Collection: feed.Calls, Kind: feed.Insert, Call: &models.Call{
		ID: uuid.New(), CallerID: uuid.New(), Recipient: uuid.New(),
	}})
	expectSilence(t, s)
}

func TestSessionNotificationFilter(t *testing.T) {
	ms := store.NewMemoryStore()
	bus := feed.NewBus()

	alice := uuid.New()
	if _, err := ms.UpsertProfile(context.Background(), alice, "Alice"); err != nil {
		t.Fatal(err)
	}

	s := newFeedSession(t, alice, ms, bus)

	bus.Publish(feed.Event{Collection: feed.Notifications, Kind: feed.Insert, Notification: &models.Notification{
		ID: uuid.New(), UserID: uuid.New(), Kind: models.NotificationKindMessage,
	}})
	expectSilence(t, s)

	bus.Publish(feed.Event{Collection: feed.Notifications, Kind: feed.Insert, Notification: &models.Notification{
		ID: uuid.New(), UserID: alice, Kind: models.NotificationKindMissedCall,
	}})
	expectEvent(t, s, EventNotificationNew)
}

func TestSessionFirstMessageOfNewConversationIsNotDropped(t *testing.T) {
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	ctx := context.Background()

	alice := uuid.New()
	carol := uuid.New()
	for _, id := range []uuid.UUID{alice, carol} {
		if _, err := ms.UpsertProfile(ctx, id, "p"); err != nil {
			t.Fatal(err)
		}
	}

	s := newFeedSession(t, alice, ms, bus)

	// The conversation event and its first message arrive back to back,
	// before the session drains anything. The membership set is updated in
	// the conversation filter itself, so the message must pass the filter.
	conv, _, _ := ms.CreateOrGetConversation(ctx, carol, alice)
	bus.Publish(feed.Event{Collection: feed.Conversations, Kind: feed.Insert, Conversation: conv})
	bus.Publish(feed.Event{Collection: feed.Messages, Kind: feed.Insert, Message: &models.Message{
		ID: "01AAAAAAAAAAAAAAAAAAAAAAA1", ConversationID: conv.ID.String(), SenderID: carol.String(),
	}})

	// Delivery order between the two subscriptions is not fixed; both
	// frames must show up.
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-s.send:
			got[ev.Type] = true
		case <-time.After(time.Second):
			t.Fatalf("only received %v", got)
		}
	}
	if !got[EventConversationUpdated] || !got[EventMessageNew] {
		t.Fatalf("got %v, want conversation_updated and message_new", got)
	}
}
