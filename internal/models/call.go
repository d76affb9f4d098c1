package models

import (
	"time"

	"github.com/google/uuid"
)

// Call kinds.
const (
	CallKindVoice = "voice"
	CallKindVideo = "video"
)

// Call statuses. Ringing is the only initial state; ended, rejected, and
// missed are terminal. Accepted is reachable only from ringing and must
// itself reach ended.
const (
	CallStatusRinging  = "ringing"
	CallStatusAccepted = "accepted"
	CallStatusRejected = "rejected"
	CallStatusMissed   = "missed"
	CallStatusEnded    = "ended"
)

// Call records a voice or video call between two members.
type Call struct {
	ID        uuid.UUID  `json:"id"`
	CallerID  uuid.UUID  `json:"caller_id"`
	Recipient uuid.UUID  `json:"recipient_id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Duration  int        `json:"duration_seconds,omitempty"`
}

// ValidCallKind reports whether kind is voice or video.
func ValidCallKind(kind string) bool {
	return kind == CallKindVoice || kind == CallKindVideo
}

// TerminalCallStatus reports whether status permits no further transition.
func TerminalCallStatus(status string) bool {
	return status == CallStatusEnded || status == CallStatusRejected || status == CallStatusMissed
}

// Involves reports whether the actor is the caller or the recipient.
func (c *Call) Involves(actorID uuid.UUID) bool {
	return c.CallerID == actorID || c.Recipient == actorID
}
