package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
)

const maxBodyBytes = 4096

// History returns messages in ascending creation order. limit <= 0 loads
// the entire history (the original contract); with a limit, before pages
// backwards from the newest and hasMore reports whether older messages
// remain.
func (s *Service) History(ctx context.Context, actorID uuid.UUID, conversationID uuid.UUID, limit int, before string) ([]models.Message, bool, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, ErrConversationNotFound
	}
	if !conv.HasParticipant(actorID) {
		return nil, false, ErrNotParticipant
	}

	if limit <= 0 {
		messages, err := s.store.ListMessages(ctx, conversationID.String(), 0, "")
		return messages, false, err
	}

	// Fetch one extra to detect older pages.
	messages, err := s.store.ListMessages(ctx, conversationID.String(), limit+1, before)
	if err != nil {
		return nil, false, err
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:]
	}
	return messages, hasMore, nil
}

// Send validates and stores a message, touches the conversation, notifies
// the counterpart, and announces the insert on the feed. A message needs a
// non-empty body or an attachment; attachment-only sends get a generated
// placeholder body.
func (s *Service) Send(ctx context.Context, conversationID, senderID uuid.UUID, body, kind, attachmentURL, attachmentName string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if kind == "" {
		kind = models.MessageKindText
	}
	if !models.ValidMessageKind(kind) {
		return nil, ErrInvalidKind
	}
	if body == "" && attachmentURL == "" {
		return nil, ErrEmptyMessage
	}
	if len(body) > maxBodyBytes {
		return nil, ErrBodyTooLong
	}
	if body == "" {
		body = placeholderBody(kind, attachmentName)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &models.Message{
		ConversationID: conversationID.String(),
		SenderID:       senderID.String(),
		Body:           body,
		Kind:           kind,
		AttachmentURL:  attachmentURL,
		AttachmentName: attachmentName,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	now := time.UnixMilli(msg.Timestamp).UTC()
	if err := s.store.TouchConversation(ctx, conversationID, now); err != nil {
		// The message is committed; a stale preview timestamp heals on the
		// next send.
		s.logger.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("touch conversation failed")
	}
	conv.LastMessageAt = now

	s.notifyCounterpart(ctx, conv, msg)

	s.pub.Publish(ctx, feed.Event{Collection: feed.Messages, Kind: feed.Insert, Message: msg})
	s.pub.Publish(ctx, feed.Event{Collection: feed.Conversations, Kind: feed.Update, Conversation: conv})

	return msg, nil
}

func placeholderBody(kind, attachmentName string) string {
	switch kind {
	case models.MessageKindImage:
		return "[image]"
	case models.MessageKindFile:
		if attachmentName != "" {
			return "[file] " + attachmentName
		}
		return "[file]"
	default:
		return "[attachment]"
	}
}

// notifyCounterpart inserts the server-side notification for a new
// message. Best-effort: a failed notification never fails the send.
func (s *Service) notifyCounterpart(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	senderID, err := uuid.Parse(msg.SenderID)
	if err != nil {
		return
	}
	sender, err := s.store.GetProfile(ctx, senderID)
	if err != nil || sender == nil {
		return
	}

	preview := msg.Body
	if len(preview) > 100 {
		// Back up to a rune boundary so the cut never leaves broken UTF-8.
		cut := 97
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "..."
	}

	n := &models.Notification{
		UserID: conv.Counterpart(senderID),
		Title:  "New message from " + sender.DisplayName,
		Body:   preview,
		Kind:   models.NotificationKindMessage,
		Link:   "/conversations/" + conv.ID.String(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		s.logger.Warn().Err(err).Msg("notification insert failed")
		return
	}
	metrics.NotificationsCreated.WithLabelValues(n.Kind).Inc()
	s.pub.Publish(ctx, feed.Event{Collection: feed.Notifications, Kind: feed.Insert, Notification: n})
}

// MarkRead flips the read flag on every unread message the reader did not
// send. Idempotent: a second call affects no rows and announces nothing.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int64, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if conv == nil {
		return 0, ErrConversationNotFound
	}
	if !conv.HasParticipant(readerID) {
		return 0, ErrNotParticipant
	}

	affected, err := s.store.MarkMessagesRead(ctx, conversationID.String(), readerID.String())
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		s.pub.Publish(ctx, feed.Event{
			Collection: feed.MessageReads,
			Kind:       feed.Insert,
			ReadReceipt: &feed.ReadReceipt{
				ConversationID: conversationID.String(),
				ReaderID:       readerID.String(),
				Count:          affected,
			},
		})
	}
	return affected, nil
}
