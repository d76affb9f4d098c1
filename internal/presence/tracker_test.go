package presence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/realtime"
)

func newTestTracker(t *testing.T, typingIdle time.Duration) (*Tracker, *realtime.Channels) {
	t.Helper()
	channels := realtime.NewChannels(nil, zerolog.Nop())
	tracker := NewTracker(channels, typingIdle)
	t.Cleanup(tracker.Shutdown)
	return tracker, channels
}

func TestJoinAndOthers(t *testing.T) {
	tracker, _ := newTestTracker(t, time.Second)
	ctx := context.Background()

	if err := tracker.Join(ctx, "conversation:c1", models.PresenceState{ActorID: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := tracker.Join(ctx, "conversation:c1", models.PresenceState{ActorID: "bob", DisplayName: "Bob"}); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	others, err := tracker.Others(ctx, "conversation:c1", "alice")
	if err != nil {
		t.Fatalf("others: %v", err)
	}
	if len(others) != 1 || others[0].ActorID != "bob" {
		t.Fatalf("others wrong: %+v", others)
	}
	if others[0].Status != models.PresenceOnline {
		t.Fatalf("default status: got %s, want online", others[0].Status)
	}
	if others[0].OnlineAt == 0 {
		t.Fatal("online_at should be stamped on join")
	}

	if err := tracker.Leave(ctx, "conversation:c1", "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	others, _ = tracker.Others(ctx, "conversation:c1", "alice")
	if len(others) != 0 {
		t.Fatalf("bob still present after leave: %+v", others)
	}
}

func TestTypingAutoClears(t *testing.T) {
	tracker, channels := newTestTracker(t, 30*time.Millisecond)
	ctx := context.Background()

	events, cancel := channels.Subscribe("conversation:c1")
	defer cancel()

	if err := tracker.StartTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("start typing: %v", err)
	}

	expect := func(want string) {
		t.Helper()
		select {
		case ev := <-events:
			if ev.Type != want {
				t.Fatalf("got event %s, want %s", ev.Type, want)
			}
			var payload TypingEvent
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if payload.ActorID != "alice" {
				t.Fatalf("actor: got %s", payload.ActorID)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s event", want)
		}
	}

	expect(realtime.EventTypingStart)
	// No further keystrokes: the idle timer issues the stop.
	expect(realtime.EventTypingStop)
}

func TestStartTypingReArmsTimer(t *testing.T) {
	tracker, channels := newTestTracker(t, 60*time.Millisecond)
	ctx := context.Background()

	events, cancel := channels.Subscribe("conversation:c1")
	defer cancel()

	if err := tracker.StartTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(35 * time.Millisecond)
	if err := tracker.StartTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("re-arm: %v", err)
	}

	// Within the original window only starts should have arrived.
	time.Sleep(35 * time.Millisecond)
	stops := 0
	drained := false
	for !drained {
		select {
		case ev := <-events:
			if ev.Type == realtime.EventTypingStop {
				stops++
			}
		default:
			drained = true
		}
	}
	if stops != 0 {
		t.Fatalf("timer fired before the re-armed window elapsed, %d stops", stops)
	}

	// After the re-armed window the stop arrives.
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == realtime.EventTypingStop {
				return
			}
		case <-deadline:
			t.Fatal("no stop after re-armed window")
		}
	}
}

func TestStopTypingIsIdempotent(t *testing.T) {
	tracker, _ := newTestTracker(t, time.Second)
	ctx := context.Background()

	if err := tracker.StopTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("stop without start: %v", err)
	}
	if err := tracker.StartTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := tracker.StopTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := tracker.StopTyping(ctx, "conversation:c1", "alice"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
