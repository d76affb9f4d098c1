package models

// Message kinds.
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// Message belongs to exactly one conversation. IDs are ULIDs, so ordering
// by id equals ordering by creation time. Messages are never edited or
// deleted; the only mutation is the read flag, flipped by the non-sender.
type Message struct {
	ID             string `json:"id"` // ULID
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body"`
	Kind           string `json:"kind"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	Read           bool   `json:"read"`
	Timestamp      int64  `json:"ts"` // Unix ms
}

// ValidMessageKind reports whether kind is one of text, image, or file.
func ValidMessageKind(kind string) bool {
	return kind == MessageKindText || kind == MessageKindImage || kind == MessageKindFile
}
