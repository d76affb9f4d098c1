package store

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelierhq/atelier/internal/models"
)

// fillMessageDefaults assigns a ULID and timestamp when the caller left
// them empty. ULIDs sort by creation time, so id order is creation order.
func fillMessageDefaults(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if msg.Kind == "" {
		msg.Kind = models.MessageKindText
	}
}

// reverseMessages flips a descending page into ascending order in place.
func reverseMessages(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
