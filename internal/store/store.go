package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/models"
)

// ErrStaleTransition is returned by TransitionCall when the record is no
// longer in the expected source status. Callers treat it as "somebody else
// got there first", not as a failure to retry.
var ErrStaleTransition = errors.New("call is not in the expected status")

// DataStore defines the interface for durable storage of profiles,
// conversations, messages, calls, and notifications. PostgresStore,
// SQLiteStore, and MemoryStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error
	Mode() string // "postgres", "sqlite", or "memory"

	// Profile operations
	UpsertProfile(ctx context.Context, id uuid.UUID, displayName string) (*models.Profile, error)
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	SearchProfiles(ctx context.Context, query string, limit int) ([]models.Profile, error)
	CountProfiles(ctx context.Context) (int64, error)

	// Conversation operations. CreateOrGetConversation is idempotent for the
	// unordered participant pair; the second return reports whether a new
	// row was inserted.
	CreateOrGetConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, actorID uuid.UUID) ([]models.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error
	CountConversations(ctx context.Context) (int64, error)

	// Message operations. ListMessages returns ascending creation order;
	// before is an exclusive ULID cursor ("" = from the newest), limit <= 0
	// loads the entire history.
	InsertMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*models.Message, error)
	CountUnread(ctx context.Context, conversationID, actorID string) (int64, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	// Call operations. TransitionCall atomically moves a call from one
	// status to another and returns ErrStaleTransition when the record is
	// not in the source status.
	InsertCall(ctx context.Context, call *models.Call) error
	GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error)
	TransitionCall(ctx context.Context, id uuid.UUID, from, to string, endedAt *time.Time, duration int) (*models.Call, error)

	// Notification operations
	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error

	// Stats
	MostRecentActivity(ctx context.Context) (*time.Time, error)
}
