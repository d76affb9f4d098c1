package chat

import (
	"sort"
	"sync"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
)

// Preview is the inbox's per-conversation summary line.
type Preview struct {
	ConversationID string          `json:"conversation_id"`
	LastMessage    *models.Message `json:"last_message,omitempty"`
	UnreadCount    int64           `json:"unread_count"`
	LastActivity   int64           `json:"last_activity"` // Unix ms
}

// Inbox is an actor's live view model: conversation previews plus the
// message list of the one open conversation. It is a read-mostly
// projection of the store, rebuilt wholesale on load and patched
// incrementally by feed events. Every append is keyed by message id, so
// replaying an event (optimistic patch followed by the feed echo) is a
// no-op.
type Inbox struct {
	actorID string

	mu       sync.Mutex
	previews map[string]*Preview
	open     string
	messages []models.Message
	seen     map[string]bool
}

// NewInbox creates an empty inbox for an actor.
func NewInbox(actorID string) *Inbox {
	return &Inbox{
		actorID:  actorID,
		previews: make(map[string]*Preview),
		seen:     make(map[string]bool),
	}
}

// Load replaces all previews from a fresh conversation listing.
func (in *Inbox) Load(views []ConversationView) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.previews = make(map[string]*Preview, len(views))
	for _, v := range views {
		in.previews[v.Conversation.ID.String()] = &Preview{
			ConversationID: v.Conversation.ID.String(),
			LastMessage:    v.LastMessage,
			UnreadCount:    v.UnreadCount,
			LastActivity:   v.Conversation.LastMessageAt.UnixMilli(),
		}
	}
}

// Open selects a conversation and seeds its message history.
func (in *Inbox) Open(conversationID string, history []models.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.open = conversationID
	in.messages = append([]models.Message(nil), history...)
	in.seen = make(map[string]bool, len(history))
	for _, m := range history {
		in.seen[m.ID] = true
	}
}

// Close deselects the open conversation and drops its history.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.open = ""
	in.messages = nil
	in.seen = make(map[string]bool)
}

// Apply patches the view model with one feed event. Events for unknown
// conversations create previews on the fly; duplicate message ids are
// ignored.
func (in *Inbox) Apply(ev feed.Event) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch {
	case ev.Collection == feed.Messages && ev.Kind == feed.Insert && ev.Message != nil:
		in.applyMessage(ev.Message)
	case ev.Collection == feed.Conversations && ev.Conversation != nil:
		in.applyConversation(ev.Conversation)
	case ev.Collection == feed.MessageReads && ev.ReadReceipt != nil:
		in.applyReadReceipt(ev.ReadReceipt)
	}
}

func (in *Inbox) applyMessage(msg *models.Message) {
	p := in.preview(msg.ConversationID)
	if p.LastMessage == nil || msg.ID > p.LastMessage.ID {
		p.LastMessage = msg
		p.LastActivity = msg.Timestamp
	}

	if msg.ConversationID == in.open {
		if in.seen[msg.ID] {
			return
		}
		in.seen[msg.ID] = true
		in.messages = append(in.messages, *msg)
		return
	}

	// Closed conversation: only the preview moves, and only counterpart
	// messages count as unread.
	if msg.SenderID != in.actorID {
		p.UnreadCount++
	}
}

func (in *Inbox) applyConversation(conv *models.Conversation) {
	p := in.preview(conv.ID.String())
	if at := conv.LastMessageAt.UnixMilli(); at > p.LastActivity {
		p.LastActivity = at
	}
}

func (in *Inbox) applyReadReceipt(r *feed.ReadReceipt) {
	if r.ReaderID == in.actorID {
		// Our own read marker, possibly from another device.
		in.preview(r.ConversationID).UnreadCount = 0
		return
	}
	// Counterpart read our messages; reflect it in the open history.
	if r.ConversationID == in.open {
		for i := range in.messages {
			if in.messages[i].SenderID == in.actorID {
				in.messages[i].Read = true
			}
		}
	}
}

func (in *Inbox) preview(conversationID string) *Preview {
	p, ok := in.previews[conversationID]
	if !ok {
		p = &Preview{ConversationID: conversationID}
		in.previews[conversationID] = p
	}
	return p
}

// Messages returns a copy of the open conversation's ordered history.
func (in *Inbox) Messages() []models.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]models.Message(nil), in.messages...)
}

// Previews returns all previews, most recent activity first.
func (in *Inbox) Previews() []Preview {
	in.mu.Lock()
	defer in.mu.Unlock()

	previews := make([]Preview, 0, len(in.previews))
	for _, p := range in.previews {
		previews = append(previews, *p)
	}
	sort.Slice(previews, func(i, j int) bool {
		return previews[i].LastActivity > previews[j].LastActivity
	})
	return previews
}

// Unread returns a conversation's unread count.
func (in *Inbox) Unread(conversationID string) int64 {
	in.mu.Lock()
	defer in.mu.Unlock()

	if p, ok := in.previews[conversationID]; ok {
		return p.UnreadCount
	}
	return 0
}
