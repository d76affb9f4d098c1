package chat

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
)

func messageEvent(convID, senderID, id string) feed.Event {
	return feed.Event{
		Collection: feed.Messages,
		Kind:       feed.Insert,
		Message: &models.Message{
			ID:             id,
			ConversationID: convID,
			SenderID:       senderID,
			Body:           "body " + id,
			Timestamp:      time.Now().UnixMilli(),
		},
	}
}

func TestApplyDeduplicatesByMessageID(t *testing.T) {
	me := uuid.NewString()
	other := uuid.NewString()
	in := NewInbox(me)
	in.Open("c1", nil)

	ev := messageEvent("c1", other, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	in.Apply(ev) // optimistic local patch
	in.Apply(ev) // feed echo

	if got := len(in.Messages()); got != 1 {
		t.Fatalf("got %d messages after replay, want 1", got)
	}
}

func TestClosedConversationCountsOnlyCounterpartUnread(t *testing.T) {
	me := uuid.NewString()
	other := uuid.NewString()
	in := NewInbox(me)

	in.Apply(messageEvent("c1", other, "01AAAAAAAAAAAAAAAAAAAAAAA1"))
	in.Apply(messageEvent("c1", other, "01AAAAAAAAAAAAAAAAAAAAAAA2"))
	in.Apply(messageEvent("c1", me, "01AAAAAAAAAAAAAAAAAAAAAAA3"))

	if got := in.Unread("c1"); got != 2 {
		t.Fatalf("unread: got %d, want 2", got)
	}
	if got := len(in.Messages()); got != 0 {
		t.Fatalf("closed conversation should not collect messages, got %d", got)
	}
}

func TestOpenConversationAppendsWithoutUnread(t *testing.T) {
	me := uuid.NewString()
	other := uuid.NewString()
	in := NewInbox(me)

	history := []models.Message{
		{ID: "01AAAAAAAAAAAAAAAAAAAAAAA1", ConversationID: "c1", SenderID: other},
	}
	in.Open("c1", history)
	in.Apply(messageEvent("c1", other, "01AAAAAAAAAAAAAAAAAAAAAAA2"))

	if got := len(in.Messages()); got != 2 {
		t.Fatalf("got %d messages, want 2", got)
	}
	if got := in.Unread("c1"); got != 0 {
		t.Fatalf("open conversation should not accrue unread, got %d", got)
	}
}

func TestReadReceipts(t *testing.T) {
	me := uuid.NewString()
	other := uuid.NewString()
	in := NewInbox(me)

	in.Apply(messageEvent("c1", other, "01AAAAAAAAAAAAAAAAAAAAAAA1"))
	if in.Unread("c1") != 1 {
		t.Fatal("setup: expected one unread")
	}

	// Own receipt (another device read the conversation) zeroes unread.
	in.Apply(feed.Event{
		Collection:  feed.MessageReads,
		Kind:        feed.Insert,
		ReadReceipt: &feed.ReadReceipt{ConversationID: "c1", ReaderID: me, Count: 1},
	})
	if got := in.Unread("c1"); got != 0 {
		t.Fatalf("unread after own receipt: got %d, want 0", got)
	}

	// Counterpart receipt flips our sent messages to read in the open view.
	in.Open("c2", []models.Message{
		{ID: "01AAAAAAAAAAAAAAAAAAAAAAA2", ConversationID: "c2", SenderID: me},
		{ID: "01AAAAAAAAAAAAAAAAAAAAAAA3", ConversationID: "c2", SenderID: other},
	})
	in.Apply(feed.Event{
		Collection:  feed.MessageReads,
		Kind:        feed.Insert,
		ReadReceipt: &feed.ReadReceipt{ConversationID: "c2", ReaderID: other, Count: 1},
	})
	msgs := in.Messages()
	if !msgs[0].Read {
		t.Fatal("own message should be marked read after counterpart receipt")
	}
	if msgs[1].Read {
		t.Fatal("counterpart message should be untouched")
	}
}

func TestPreviewsSortByActivity(t *testing.T) {
	me := uuid.NewString()
	other := uuid.NewString()
	in := NewInbox(me)

	older := messageEvent("c1", other, "01AAAAAAAAAAAAAAAAAAAAAAA1")
	older.Message.Timestamp = 1000
	newer := messageEvent("c2", other, "01AAAAAAAAAAAAAAAAAAAAAAA2")
	newer.Message.Timestamp = 2000

	in.Apply(older)
	in.Apply(newer)

	previews := in.Previews()
	if len(previews) != 2 {
		t.Fatalf("got %d previews, want 2", len(previews))
	}
	if previews[0].ConversationID != "c2" || previews[1].ConversationID != "c1" {
		t.Fatalf("previews out of order: %+v", previews)
	}
}

func TestLoadReplacesPreviews(t *testing.T) {
	me := uuid.New()
	other := uuid.New()
	in := NewInbox(me.String())

	convID := uuid.New()
	in.Load([]ConversationView{
		{
			Conversation: models.Conversation{
				ID:            convID,
				ParticipantA:  me,
				ParticipantB:  other,
				LastMessageAt: time.Now(),
			},
			UnreadCount: 4,
		},
	})

	if got := in.Unread(convID.String()); got != 4 {
		t.Fatalf("unread after load: got %d, want 4", got)
	}
	if got := len(in.Previews()); got != 1 {
		t.Fatalf("got %d previews, want 1", got)
	}
}
