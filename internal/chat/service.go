// Package chat implements the conversation repository and message stream:
// denormalized conversation listings, idempotent pair creation, ordered
// history with cursor pagination, sends, and read-marking. All mutations
// go through the store and are announced on the change-feed afterwards.
package chat

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/models"
	"github.com/atelierhq/atelier/internal/store"
)

var (
	ErrEmptyMessage         = errors.New("message requires a body or an attachment")
	ErrBodyTooLong          = errors.New("message body exceeds 4096 bytes")
	ErrInvalidKind          = errors.New("message kind must be text, image, or file")
	ErrNotParticipant       = errors.New("actor is not a participant of the conversation")
	ErrSelfConversation     = errors.New("cannot open a conversation with yourself")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrProfileNotFound      = errors.New("profile not found")
)

// Service is the access boundary for conversations and messages.
// Participant checks happen here, not in clients.
type Service struct {
	store  store.DataStore
	pub    feed.Publisher
	logger zerolog.Logger
}

// NewService creates a chat service.
func NewService(ds store.DataStore, pub feed.Publisher, logger zerolog.Logger) *Service {
	return &Service{store: ds, pub: pub, logger: logger}
}

// ConversationView is the denormalized projection served to clients:
// the conversation plus the counterpart's profile summary, the most
// recent message, and the actor's unread count.
type ConversationView struct {
	Conversation models.Conversation `json:"conversation"`
	Counterpart  *models.Profile     `json:"counterpart,omitempty"`
	LastMessage  *models.Message     `json:"last_message,omitempty"`
	UnreadCount  int64               `json:"unread_count"`
}
