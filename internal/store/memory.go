package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/models"
)

// MemoryStore is an in-memory DataStore. It backs demo mode when no
// database is configured and serves as the injectable fake in tests.
// Nothing survives a restart; health reporting labels it so demo data is
// never mistaken for live data.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[uuid.UUID]*models.Profile
	conversations map[uuid.UUID]*models.Conversation
	messages      map[string][]models.Message // keyed by conversation id
	calls         map[uuid.UUID]*models.Call
	notifications map[uuid.UUID][]models.Notification // keyed by user id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[uuid.UUID]*models.Profile),
		conversations: make(map[uuid.UUID]*models.Conversation),
		messages:      make(map[string][]models.Message),
		calls:         make(map[uuid.UUID]*models.Call),
		notifications: make(map[uuid.UUID][]models.Notification),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Mode identifies the store implementation for health reporting.
func (s *MemoryStore) Mode() string { return "memory" }

// UpsertProfile creates a profile or refreshes its display name.
func (s *MemoryStore) UpsertProfile(ctx context.Context, id uuid.UUID, displayName string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	p, ok := s.profiles[id]
	if !ok {
		p = &models.Profile{ID: id, CreatedAt: now}
		s.profiles[id] = p
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	p.UpdatedAt = now

	cp := *p
	return &cp, nil
}

// GetProfile retrieves a profile by ID.
func (s *MemoryStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// SearchProfiles finds profiles whose display name contains the query.
func (s *MemoryStore) SearchProfiles(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(query)
	var profiles []models.Profile
	for _, p := range s.profiles {
		if strings.Contains(strings.ToLower(p.DisplayName), query) {
			profiles = append(profiles, *p)
		}
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].DisplayName < profiles[j].DisplayName
	})
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}

// CountProfiles returns the total number of profiles.
func (s *MemoryStore) CountProfiles(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.profiles)), nil
}

// CreateOrGetConversation returns the conversation for the unordered pair,
// inserting it if absent. The single mutex makes the check-then-insert
// atomic, mirroring the unique pair index of the SQL stores.
func (s *MemoryStore) CreateOrGetConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if (c.ParticipantA == a && c.ParticipantB == b) || (c.ParticipantA == b && c.ParticipantB == a) {
			cp := *c
			return &cp, false, nil
		}
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:            uuid.New(),
		ParticipantA:  a,
		ParticipantB:  b,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	s.conversations[conv.ID] = conv

	cp := *conv
	return &cp, true, nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListConversations returns the actor's conversations, most recent activity first.
func (s *MemoryStore) ListConversations(ctx context.Context, actorID uuid.UUID) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []models.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(actorID) {
			convs = append(convs, *c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
	})
	return convs, nil
}

// TouchConversation updates the last activity timestamp.
func (s *MemoryStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conversations[id]; ok {
		c.LastMessageAt = at
	}
	return nil
}

// CountConversations returns the total number of conversations.
func (s *MemoryStore) CountConversations(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.conversations)), nil
}

// InsertMessage stores a message.
func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	fillMessageDefaults(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

// ListMessages returns messages in ascending creation order (see DataStore).
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	var messages []models.Message
	for _, m := range all {
		if before != "" && m.ID >= before {
			continue
		}
		messages = append(messages, m)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// LastMessage returns the most recent message in a conversation.
func (s *MemoryStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	if len(all) == 0 {
		return nil, nil
	}
	last := all[0]
	for _, m := range all[1:] {
		if m.ID > last.ID {
			last = m
		}
	}
	return &last, nil
}

// CountUnread counts messages the actor has not read.
func (s *MemoryStore) CountUnread(ctx context.Context, conversationID, actorID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, m := range s.messages[conversationID] {
		if m.SenderID != actorID && !m.Read {
			count++
		}
	}
	return count, nil
}

// MarkMessagesRead flips the read flag on unread counterpart messages.
func (s *MemoryStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].Read {
			msgs[i].Read = true
			affected++
		}
	}
	return affected, nil
}

// CountMessages returns the total number of messages.
func (s *MemoryStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, msgs := range s.messages {
		count += int64(len(msgs))
	}
	return count, nil
}

// InsertCall creates a call record.
func (s *MemoryStore) InsertCall(ctx context.Context, call *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	cp := *call
	s.calls[call.ID] = &cp
	return nil
}

// GetCall retrieves a call by ID.
func (s *MemoryStore) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.calls[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// TransitionCall atomically moves a call from one status to another.
func (s *MemoryStore) TransitionCall(ctx context.Context, id uuid.UUID, from, to string, endedAt *time.Time, duration int) (*models.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.calls[id]
	if !ok || c.Status != from {
		return nil, ErrStaleTransition
	}
	c.Status = to
	if endedAt != nil {
		c.EndedAt = endedAt
	}
	c.Duration = duration

	cp := *c
	return &cp, nil
}

// InsertNotification stores a notification.
func (s *MemoryStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications[n.UserID] = append(s.notifications[n.UserID], *n)
	return nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *MemoryStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.notifications[userID]
	notifications := make([]models.Notification, len(all))
	copy(notifications, all)
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit > 0 && len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

// MarkNotificationRead flips a notification's read flag.
func (s *MemoryStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notifs := s.notifications[userID]
	for i := range notifs {
		if notifs[i].ID == id {
			notifs[i].Read = true
		}
	}
	return nil
}

// MostRecentActivity returns the timestamp of the latest conversation activity.
func (s *MemoryStore) MostRecentActivity(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, c := range s.conversations {
		t := c.LastMessageAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}
