package models

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// PresenceState is ephemeral: it exists only while a channel subscription
// is alive and is never stored durably.
type PresenceState struct {
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	OnlineAt    int64  `json:"online_at"` // Unix ms
	Status      string `json:"status"`
}
