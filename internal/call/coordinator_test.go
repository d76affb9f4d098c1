package call

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/realtime"
	"github.com/atelierhq/atelier/internal/store"
)

func newTestCoordinator(t *testing.T, ringTimeout time.Duration) (*Coordinator, *store.MemoryStore, *realtime.Channels) {
	t.Helper()
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	channels := realtime.NewChannels(nil, zerolog.Nop())
	c := NewCoordinator(ms, feed.LocalPublisher{Bus: bus}, channels, ringTimeout, zerolog.Nop())
	t.Cleanup(c.Shutdown)
	return c, ms, channels
}

func addCallProfile(t *testing.T, ms *store.MemoryStore, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := ms.UpsertProfile(context.Background(), id, name); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	return id
}

func TestCallLifecycleAcceptEnd(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, recipient, err := c.Initiate(ctx, caller, callee, models.CallKindVoice)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if call.Status != models.CallStatusRinging {
		t.Fatalf("status: got %s, want ringing", call.Status)
	}
	if recipient.ID != callee {
		t.Fatalf("recipient: got %s, want %s", recipient.ID, callee)
	}

	accepted, err := c.Accept(ctx, call.ID, callee)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.CallStatusAccepted {
		t.Fatalf("status after accept: %s", accepted.Status)
	}

	ended, err := c.End(ctx, call.ID, caller)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != models.CallStatusEnded {
		t.Fatalf("status after end: %s", ended.Status)
	}
	if ended.EndedAt == nil {
		t.Fatal("ended call needs an ended_at timestamp")
	}
	if ended.Duration < 0 {
		t.Fatalf("negative duration %d", ended.Duration)
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVideo)
	if _, err := c.Reject(ctx, call.ID, callee); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if _, err := c.Accept(ctx, call.ID, callee); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept after reject: got %v, want ErrInvalidTransition", err)
	}
	if _, err := c.End(ctx, call.ID, caller); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("end after reject: got %v, want ErrInvalidTransition", err)
	}

	got, err := c.Get(ctx, call.ID, caller)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CallStatusRejected {
		t.Fatalf("terminal status moved: %s", got.Status)
	}
}

func TestOnlyRecipientAnswers(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")
	outsider := addCallProfile(t, ms, "outsider")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVoice)

	if _, err := c.Accept(ctx, call.ID, caller); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("caller accept: got %v, want ErrNotRecipient", err)
	}
	if _, err := c.Reject(ctx, call.ID, outsider); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("outsider reject: got %v, want ErrNotRecipient", err)
	}
	if _, err := c.Get(ctx, call.ID, outsider); !errors.Is(err, ErrNotInvolved) {
		t.Fatalf("outsider get: got %v, want ErrNotInvolved", err)
	}
}

func TestCallerEndingRingWithdrawsCall(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVoice)
	ended, err := c.End(ctx, call.ID, caller)
	if err != nil {
		t.Fatalf("end ringing call: %v", err)
	}
	if ended.Status != models.CallStatusEnded {
		t.Fatalf("withdrawn call status: %s, want ended", ended.Status)
	}
}

func TestUnansweredCallBecomesMissedExactlyOnce(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, 30*time.Millisecond)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVoice)

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := ms.GetCall(ctx, call.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == models.CallStatusMissed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("call never went missed, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The recipient gets a missed-call notification.
	notifications, err := ms.ListNotifications(ctx, callee, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Kind != models.NotificationKindMissedCall {
		t.Fatalf("missed-call notification wrong: %+v", notifications)
	}

	// A late accept loses to the timeout.
	if _, err := c.Accept(ctx, call.ID, callee); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("late accept: got %v, want ErrInvalidTransition", err)
	}
}

func TestAcceptCancelsMissedTimer(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, 40*time.Millisecond)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVoice)
	if _, err := c.Accept(ctx, call.ID, callee); err != nil {
		t.Fatalf("accept: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	got, err := ms.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CallStatusAccepted {
		t.Fatalf("timer fired on accepted call: status %s", got.Status)
	}
}

func TestRelayDeliversOpaqueSignals(t *testing.T) {
	c, ms, channels := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVideo)

	events, cancel := channels.Subscribe(ChannelScope(call.ID))
	defer cancel()

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	if err := c.Relay(ctx, call.ID, caller, "offer", payload); err != nil {
		t.Fatalf("relay: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != realtime.EventSignal {
			t.Fatalf("event type: %s", ev.Type)
		}
		var sig Signal
		if err := json.Unmarshal(ev.Payload, &sig); err != nil {
			t.Fatalf("decode signal: %v", err)
		}
		if sig.Type != "offer" || sig.FromID != caller.String() {
			t.Fatalf("signal wrong: %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("no signal delivered")
	}
}

func TestRelayValidation(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")
	callee := addCallProfile(t, ms, "callee")
	outsider := addCallProfile(t, ms, "outsider")

	call, _, _ := c.Initiate(ctx, caller, callee, models.CallKindVoice)

	if err := c.Relay(ctx, call.ID, caller, "sdp-blob", nil); !errors.Is(err, ErrInvalidSignal) {
		t.Fatalf("bad type: got %v, want ErrInvalidSignal", err)
	}
	if err := c.Relay(ctx, call.ID, outsider, "offer", nil); !errors.Is(err, ErrNotInvolved) {
		t.Fatalf("outsider: got %v, want ErrNotInvolved", err)
	}

	if _, err := c.Reject(ctx, call.ID, callee); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := c.Relay(ctx, call.ID, caller, "candidate", nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal relay: got %v, want ErrInvalidTransition", err)
	}
}

func TestInitiateValidation(t *testing.T) {
	c, ms, _ := newTestCoordinator(t, time.Minute)
	ctx := context.Background()
	caller := addCallProfile(t, ms, "caller")

	if _, _, err := c.Initiate(ctx, caller, caller, models.CallKindVoice); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("self call: got %v, want ErrSelfCall", err)
	}
	if _, _, err := c.Initiate(ctx, caller, uuid.New(), models.CallKindVoice); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("unknown recipient: got %v, want ErrRecipientNotFound", err)
	}
	if _, _, err := c.Initiate(ctx, caller, caller, "hologram"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("bad kind: got %v, want ErrInvalidKind", err)
	}
}
