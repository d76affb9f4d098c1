package feed

import (
	"testing"

	"github.com/atelierhq/atelier/internal/models"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewBus()

	stream, cancel := bus.Subscribe(Messages, nil, nil)
	defer cancel()

	msg := &models.Message{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", ConversationID: "c1"}
	bus.Publish(Event{Collection: Messages, Kind: Insert, Message: msg})
	bus.Publish(Event{Collection: Calls, Kind: Insert})

	select {
	case ev := <-stream:
		if ev.Message == nil || ev.Message.ID != msg.ID {
			t.Fatalf("got unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a message event")
	}

	select {
	case ev := <-stream:
		t.Fatalf("received event from unsubscribed collection: %+v", ev)
	default:
	}
}

func TestKindAndFilterNarrowing(t *testing.T) {
	bus := NewBus()

	stream, cancel := bus.Subscribe(Messages, []Kind{Insert}, func(ev Event) bool {
		return ev.Message != nil && ev.Message.ConversationID == "c1"
	})
	defer cancel()

	bus.Publish(Event{Collection: Messages, Kind: Update, Message: &models.Message{ID: "a", ConversationID: "c1"}})
	bus.Publish(Event{Collection: Messages, Kind: Insert, Message: &models.Message{ID: "b", ConversationID: "c2"}})
	bus.Publish(Event{Collection: Messages, Kind: Insert, Message: &models.Message{ID: "c", ConversationID: "c1"}})

	select {
	case ev := <-stream:
		if ev.Message.ID != "c" {
			t.Fatalf("filter passed wrong event: %+v", ev)
		}
	default:
		t.Fatal("expected the filtered event")
	}

	select {
	case ev := <-stream:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()

	stream, cancel := bus.Subscribe(Conversations, nil, nil)
	cancel()

	bus.Publish(Event{Collection: Conversations, Kind: Insert, Conversation: &models.Conversation{}})

	select {
	case ev := <-stream:
		t.Fatalf("received event after cancel: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()

	_, cancel := bus.Subscribe(Messages, nil, nil)
	defer cancel()

	// Nobody drains the stream; publishing far past the buffer must not
	// block.
	for i := 0; i < 200; i++ {
		bus.Publish(Event{Collection: Messages, Kind: Insert, Message: &models.Message{ID: "m"}})
	}
}
