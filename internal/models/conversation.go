package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation pairs exactly two participants. The unordered pair is unique:
// the store enforces a composite index on (least, greatest) of the two ids.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	ParticipantA  uuid.UUID `json:"participant_a"`
	ParticipantB  uuid.UUID `json:"participant_b"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Counterpart returns the other participant for the given actor.
func (c *Conversation) Counterpart(actorID uuid.UUID) uuid.UUID {
	if c.ParticipantA == actorID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// HasParticipant reports whether the actor is one of the two participants.
func (c *Conversation) HasParticipant(actorID uuid.UUID) bool {
	return c.ParticipantA == actorID || c.ParticipantB == actorID
}
