package models

import (
	"time"

	"github.com/google/uuid"
)

// Profile is the read-mostly projection of a community member. It is owned
// by the external identity provider; this service only mirrors it to
// decorate conversations, calls, and search results.
type Profile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
