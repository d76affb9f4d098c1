package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds produced by this service.
const (
	NotificationKindMessage    = "message"
	NotificationKindMissedCall = "missed_call"
)

// Notification is produced as a server-side side effect (a new message, a
// missed call) and consumed by the in-app notification center.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      string    `json:"kind"`
	Read      bool      `json:"read"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
