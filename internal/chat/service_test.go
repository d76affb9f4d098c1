package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *feed.Bus) {
	t.Helper()
	ms := store.NewMemoryStore()
	bus := feed.NewBus()
	svc := NewService(ms, feed.LocalPublisher{Bus: bus}, zerolog.Nop())
	return svc, ms, bus
}

func addProfile(t *testing.T, ms *store.MemoryStore, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := ms.UpsertProfile(context.Background(), id, name); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	return id
}

func TestCreateOrGetIsIdempotentAcrossPairOrder(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")

	conv1, created, err := svc.CreateOrGet(ctx, alice, bob)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Fatal("first call should create")
	}

	conv2, created, err := svc.CreateOrGet(ctx, bob, alice)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("second call should not create")
	}
	if conv1.ID != conv2.ID {
		t.Fatalf("pair produced two conversations: %s and %s", conv1.ID, conv2.ID)
	}
}

func TestCreateOrGetConcurrentConvergesOnOneConversation(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")

	const workers = 16
	ids := make([]uuid.UUID, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := alice, bob
			if i%2 == 1 {
				a, b = bob, alice
			}
			conv, _, err := svc.CreateOrGet(ctx, a, b)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got conversation %s, want %s", i, ids[i], ids[0])
		}
	}

	count, err := ms.CountConversations(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("got %d conversations, want 1", count)
	}
}

func TestCreateOrGetRejectsSelfAndUnknownProfiles(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")

	if _, _, err := svc.CreateOrGet(ctx, alice, alice); err != ErrSelfConversation {
		t.Fatalf("self conversation: got %v, want ErrSelfConversation", err)
	}
	if _, _, err := svc.CreateOrGet(ctx, alice, uuid.New()); err != ErrProfileNotFound {
		t.Fatalf("unknown counterpart: got %v, want ErrProfileNotFound", err)
	}
}

func TestHistoryReturnsInsertionOrder(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")

	conv, _, err := svc.CreateOrGet(ctx, alice, bob)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	bodies := []string{"one", "two", "three", "four", "five"}
	for _, body := range bodies {
		if _, err := svc.Send(ctx, conv.ID, alice, body, "", "", ""); err != nil {
			t.Fatalf("send %q: %v", body, err)
		}
	}

	messages, hasMore, err := svc.History(ctx, alice, conv.ID, 0, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if hasMore {
		t.Fatal("full history should not report more")
	}
	if len(messages) != len(bodies) {
		t.Fatalf("got %d messages, want %d", len(messages), len(bodies))
	}
	for i, body := range bodies {
		if messages[i].Body != body {
			t.Fatalf("position %d: got %q, want %q", i, messages[i].Body, body)
		}
	}
}

func TestHistoryPaginatesBackwards(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")

	conv, _, _ := svc.CreateOrGet(ctx, alice, bob)
	for _, body := range []string{"one", "two", "three", "four", "five"} {
		if _, err := svc.Send(ctx, conv.ID, alice, body, "", "", ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	page, hasMore, err := svc.History(ctx, alice, conv.ID, 2, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if !hasMore {
		t.Fatal("first page should report more")
	}
	if len(page) != 2 || page[0].Body != "four" || page[1].Body != "five" {
		t.Fatalf("first page wrong: %+v", page)
	}

	page2, hasMore, err := svc.History(ctx, alice, conv.ID, 2, page[0].ID)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if !hasMore {
		t.Fatal("second page should report more")
	}
	if len(page2) != 2 || page2[0].Body != "two" || page2[1].Body != "three" {
		t.Fatalf("second page wrong: %+v", page2)
	}

	page3, hasMore, err := svc.History(ctx, alice, conv.ID, 2, page2[0].ID)
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if hasMore {
		t.Fatal("last page should not report more")
	}
	if len(page3) != 1 || page3[0].Body != "one" {
		t.Fatalf("last page wrong: %+v", page3)
	}
}

func TestSendValidation(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	mallory := addProfile(t, ms, "mallory")

	conv, _, _ := svc.CreateOrGet(ctx, alice, bob)

	if _, err := svc.Send(ctx, conv.ID, alice, "   ", "", "", ""); err != ErrEmptyMessage {
		t.Fatalf("blank body: got %v, want ErrEmptyMessage", err)
	}
	if _, err := svc.Send(ctx, conv.ID, alice, "hi", "sticker", "", ""); err != ErrInvalidKind {
		t.Fatalf("bad kind: got %v, want ErrInvalidKind", err)
	}
	if _, err := svc.Send(ctx, conv.ID, mallory, "hi", "", "", ""); err != ErrNotParticipant {
		t.Fatalf("outsider: got %v, want ErrNotParticipant", err)
	}
	if _, err := svc.Send(ctx, uuid.New(), alice, "hi", "", "", ""); err != ErrConversationNotFound {
		t.Fatalf("missing conversation: got %v, want ErrConversationNotFound", err)
	}
}

func TestAttachmentOnlySendGetsPlaceholderBody(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	conv, _, _ := svc.CreateOrGet(ctx, alice, bob)

	msg, err := svc.Send(ctx, conv.ID, alice, "", models.MessageKindFile, "https://cdn.example/x", "pattern.pdf")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Body != "[file] pattern.pdf" {
		t.Fatalf("placeholder body: got %q", msg.Body)
	}

	img, err := svc.Send(ctx, conv.ID, alice, "", models.MessageKindImage, "https://cdn.example/y", "")
	if err != nil {
		t.Fatalf("send image: %v", err)
	}
	if img.Body != "[image]" {
		t.Fatalf("image placeholder: got %q", img.Body)
	}
}

func TestUnreadCountingAndMarkReadIdempotence(t *testing.T) {
	svc, ms, bus := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	conv, _, _ := svc.CreateOrGet(ctx, alice, bob)

	receipts, cancel := bus.Subscribe(feed.MessageReads, nil, nil)
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := svc.Send(ctx, conv.ID, bob, "hello", "", "", ""); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	// Alice's own message never counts against her.
	if _, err := svc.Send(ctx, conv.ID, alice, "hey", "", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	view, err := svc.View(ctx, alice, conv.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.UnreadCount != 3 {
		t.Fatalf("unread: got %d, want 3", view.UnreadCount)
	}

	affected, err := svc.MarkRead(ctx, conv.ID, alice)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if affected != 3 {
		t.Fatalf("first mark read affected %d, want 3", affected)
	}

	affected, err = svc.MarkRead(ctx, conv.ID, alice)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if affected != 0 {
		t.Fatalf("second mark read affected %d, want 0", affected)
	}

	view, _ = svc.View(ctx, alice, conv.ID)
	if view.UnreadCount != 0 {
		t.Fatalf("unread after mark read: got %d, want 0", view.UnreadCount)
	}

	// Only the effective call announces a receipt.
	var count int
	for {
		select {
		case <-receipts:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Fatalf("got %d read receipts, want 1", count)
	}
}

func TestListConversationsDecoratesViews(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	conv, _, _ := svc.CreateOrGet(ctx, alice, bob)

	if _, err := svc.Send(ctx, conv.ID, bob, "latest", "", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	views, err := svc.ListConversations(ctx, alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	v := views[0]
	if v.Counterpart == nil || v.Counterpart.ID != bob {
		t.Fatalf("counterpart wrong: %+v", v.Counterpart)
	}
	if v.LastMessage == nil || v.LastMessage.Body != "latest" {
		t.Fatalf("last message wrong: %+v", v.LastMessage)
	}
	if v.UnreadCount != 1 {
		t.Fatalf("unread: got %d, want 1", v.UnreadCount)
	}

	// Sending a message must notify the counterpart.
	notifications, err := ms.ListNotifications(ctx, alice, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].Kind != models.NotificationKindMessage {
		t.Fatalf("notifications wrong: %+v", notifications)
	}
}

func TestSendRejectsOversizedBody(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	conv, _, err := svc.CreateOrGet(ctx, alice, bob)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 4095 ASCII bytes plus a three-byte rune crosses the limit; a slice
	// at the limit would cut the rune in half.
	body := strings.Repeat("a", 4095) + "€"
	if _, err := svc.Send(ctx, conv.ID, alice, body, "", "", ""); err != ErrBodyTooLong {
		t.Fatalf("oversized send: got %v, want ErrBodyTooLong", err)
	}

	// A body of exactly the limit goes through intact.
	body = strings.Repeat("a", 4096)
	msg, err := svc.Send(ctx, conv.ID, alice, body, "", "", "")
	if err != nil {
		t.Fatalf("send at limit: %v", err)
	}
	if msg.Body != body {
		t.Fatalf("body altered: len=%d", len(msg.Body))
	}
}

func TestNotificationPreviewCutsOnRuneBoundary(t *testing.T) {
	svc, ms, _ := newTestService(t)
	ctx := context.Background()
	alice := addProfile(t, ms, "alice")
	bob := addProfile(t, ms, "bob")
	conv, _, err := svc.CreateOrGet(ctx, alice, bob)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A byte-97 cut would land mid-rune; the preview must stay valid UTF-8.
	body := strings.Repeat("a", 96) + strings.Repeat("€", 40)
	if _, err := svc.Send(ctx, conv.ID, alice, body, "", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}

	notifications, err := ms.ListNotifications(ctx, bob, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifications) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifications))
	}
	preview := notifications[0].Body
	if !utf8.ValidString(preview) {
		t.Fatalf("preview is invalid UTF-8: %q", preview)
	}
	if !strings.HasSuffix(preview, "...") || len(preview) > 100 {
		t.Fatalf("preview not truncated: len=%d %q", len(preview), preview)
	}
}
