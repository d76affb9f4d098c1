package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/feed"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/models"
)

// ListConversations returns the actor's conversations ordered by most
// recent activity, each decorated with the counterpart profile, last
// message, and unread count. A store failure surfaces as an error; it is
// never flattened into an empty list.
func (s *Service) ListConversations(ctx context.Context, actorID uuid.UUID) ([]ConversationView, error) {
	convs, err := s.store.ListConversations(ctx, actorID)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		view, err := s.buildView(ctx, actorID, conv)
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

// View returns the denormalized projection of one conversation, used to
// refresh a single preview when the feed reports activity.
func (s *Service) View(ctx context.Context, actorID, conversationID uuid.UUID) (*ConversationView, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(actorID) {
		return nil, ErrNotParticipant
	}
	return s.buildView(ctx, actorID, *conv)
}

func (s *Service) buildView(ctx context.Context, actorID uuid.UUID, conv models.Conversation) (*ConversationView, error) {
	counterpart, err := s.store.GetProfile(ctx, conv.Counterpart(actorID))
	if err != nil {
		return nil, err
	}
	last, err := s.store.LastMessage(ctx, conv.ID.String())
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, conv.ID.String(), actorID.String())
	if err != nil {
		return nil, err
	}
	return &ConversationView{
		Conversation: conv,
		Counterpart:  counterpart,
		LastMessage:  last,
		UnreadCount:  unread,
	}, nil
}

// CreateOrGet returns the conversation for the unordered actor pair,
// creating it on first message-intent. Safe to call repeatedly: the store's
// pair uniqueness makes duplicate creation impossible even under races.
func (s *Service) CreateOrGet(ctx context.Context, actorID, otherID uuid.UUID) (*models.Conversation, bool, error) {
	if actorID == otherID {
		return nil, false, ErrSelfConversation
	}

	other, err := s.store.GetProfile(ctx, otherID)
	if err != nil {
		return nil, false, err
	}
	if other == nil {
		return nil, false, ErrProfileNotFound
	}

	conv, created, err := s.store.CreateOrGetConversation(ctx, actorID, otherID)
	if err != nil {
		return nil, false, err
	}

	if created {
		metrics.ConversationsCreated.Inc()
		s.pub.Publish(ctx, feed.Event{
			Collection:   feed.Conversations,
			Kind:         feed.Insert,
			Conversation: conv,
		})
	}
	return conv, created, nil
}
