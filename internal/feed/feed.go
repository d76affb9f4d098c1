// Package feed is the change-feed: a typed event bus delivering one event
// per committed row change. Components publish after every store write;
// subscribers receive events matching their collection, kind, and filter.
// An optional Redis bridge fans events out across instances. Delivery is
// at-least-once from a subscriber's point of view (a row can arrive both
// as an optimistic local patch and as the feed echo), so consumers key
// state by row id and treat reapplication as a no-op.
package feed

import (
	"sync"

	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
)

// Collections observable on the feed.
const (
	Conversations = "conversations"
	Messages      = "messages"
	MessageReads  = "message_reads"
	Calls         = "calls"
	Notifications = "notifications"
)

// Kind is the row change kind.
type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
)

// ReadReceipt is the row payload of the message_reads collection. Read
// flags flip in bulk per conversation, so the receipt carries the scope
// rather than individual message ids.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
	Count          int64  `json:"count"`
}

// Event is one committed row change. Exactly one row field is set,
// matching Collection.
type Event struct {
	Collection string `json:"collection"`
	Kind       Kind   `json:"kind"`

	Conversation *models.Conversation `json:"conversation,omitempty"`
	Message      *models.Message      `json:"message,omitempty"`
	ReadReceipt  *ReadReceipt         `json:"read_receipt,omitempty"`
	Call         *models.Call         `json:"call,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
}

// Filter decides whether a subscriber receives an event. A nil filter
// matches everything in the subscribed collection.
type Filter func(Event) bool

type subscriber struct {
	id         int64
	collection string
	kinds      map[Kind]bool // nil = all kinds
	filter     Filter
	stream     chan Event
}

// Bus dispatches feed events to in-process subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events and is expected to
// reload from the store, the single source of truth.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber // keyed by collection
	nextID      int64
	bufferSize  int
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  32,
	}
}

// Subscribe registers for events on a collection. kinds narrows to the
// given change kinds (nil = all); filter narrows further. The returned
// cancel func must be called when the consumer goes away so the channel
// subscription does not leak.
func (b *Bus) Subscribe(collection string, kinds []Kind, filter Filter) (<-chan Event, func()) {
	sub := &subscriber{
		collection: collection,
		filter:     filter,
		stream:     make(chan Event, b.bufferSize),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	if _, ok := b.subscribers[collection]; !ok {
		b.subscribers[collection] = make(map[int64]*subscriber)
	}
	b.subscribers[collection][sub.id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		subs := b.subscribers[collection]
		if subs != nil {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(b.subscribers, collection)
			}
		}
		b.mu.Unlock()
	}
	return sub.stream, cancel
}

// Publish delivers an event to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	metrics.FeedEventsPublished.WithLabelValues(ev.Collection, string(ev.Kind)).Inc()

	b.mu.RLock()
	subs := b.subscribers[ev.Collection]
	copies := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()

	for _, sub := range copies {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.stream <- ev:
		default:
			// Slow subscriber: drop. The store remains authoritative.
		}
	}
}
