package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierhq/atelier/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool
// and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates tables and indexes if they don't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		participant_a UUID NOT NULL,
		participant_b UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_message_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	-- One conversation per unordered participant pair.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
		ON conversations ((LEAST(participant_a, participant_b)), (GREATEST(participant_a, participant_b)));
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message
		ON conversations (last_message_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		sender_id UUID NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		attachment_url TEXT NOT NULL DEFAULT '',
		attachment_name TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		ts BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);

	CREATE TABLE IF NOT EXISTS calls (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		caller_id UUID NOT NULL,
		recipient_id UUID NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ringing',
		started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		ended_at TIMESTAMPTZ,
		duration_seconds INT NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_calls_recipient ON calls (recipient_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		link TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC);
	`

	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Mode identifies the store implementation for health reporting.
func (s *PostgresStore) Mode() string {
	return "postgres"
}

// UpsertProfile creates a profile or refreshes its display name.
func (s *PostgresStore) UpsertProfile(ctx context.Context, id uuid.UUID, displayName string) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE profiles.display_name END,
			updated_at = now()
		RETURNING id, display_name, avatar_url, bio, created_at, updated_at
	`, id, displayName).Scan(
		&p.ID,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Bio,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfile retrieves a profile by ID.
func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p := &models.Profile{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, avatar_url, bio, created_at, updated_at
		FROM profiles WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Bio,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// SearchProfiles finds profiles whose display name contains the query.
func (s *PostgresStore) SearchProfiles(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, display_name, avatar_url, bio, created_at, updated_at
		FROM profiles
		WHERE display_name ILIKE '%' || $1 || '%'
		ORDER BY display_name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountProfiles returns the total number of profiles.
func (s *PostgresStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

const conversationColumns = `id, participant_a, participant_b, created_at, last_message_at`

// CreateOrGetConversation returns the conversation for the unordered pair,
// inserting it if absent. The unique pair index closes the check-then-insert
// race: a concurrent insert makes our insert a no-op and we re-select.
func (s *PostgresStore) CreateOrGetConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	conv, err := s.getConversationByPair(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}

	conv = &models.Conversation{}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO conversations (participant_a, participant_b)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING `+conversationColumns+`
	`, a, b).Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// Lost the race; the other inserter's row is authoritative.
	conv, err = s.getConversationByPair(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (s *PostgresStore) getConversationByPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE (participant_a = $1 AND participant_b = $2)
		   OR (participant_a = $2 AND participant_b = $1)
	`, a, b).Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID,
		&conv.ParticipantA,
		&conv.ParticipantB,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// ListConversations returns the actor's conversations, most recent activity first.
func (s *PostgresStore) ListConversations(ctx context.Context, actorID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY last_message_at DESC
	`, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TouchConversation updates the last activity timestamp.
func (s *PostgresStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2 WHERE id = $1
	`, id, at)
	return err
}

// CountConversations returns the total number of conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

const messageColumns = `id, conversation_id::text, sender_id::text, body, kind, attachment_url, attachment_name, read, ts`

// InsertMessage stores a message.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	fillMessageDefaults(msg)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts)
		VALUES ($1, $2::uuid, $3::uuid, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.Kind, msg.AttachmentURL, msg.AttachmentName, msg.Read, msg.Timestamp)
	return err
}

// ListMessages returns messages in ascending creation order. ULID ids order
// the same as creation time, so the id doubles as the pagination cursor.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 {
		rows, err := s.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages WHERE conversation_id = $1::uuid
			ORDER BY id ASC
		`, conversationID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanMessages(rows)
	}

	var (
		rows pgx.Rows
		err  error
	)
	if before == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages WHERE conversation_id = $1::uuid
			ORDER BY id DESC
			LIMIT $2
		`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages WHERE conversation_id = $1::uuid AND id < $2
			ORDER BY id DESC
			LIMIT $3
		`, conversationID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func scanMessages(rows pgx.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Kind,
			&m.AttachmentURL, &m.AttachmentName, &m.Read, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastMessage returns the most recent message in a conversation.
func (s *PostgresStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	m := &models.Message{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE conversation_id = $1::uuid
		ORDER BY id DESC
		LIMIT 1
	`, conversationID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Kind,
		&m.AttachmentURL, &m.AttachmentName, &m.Read, &m.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CountUnread counts messages the actor has not read.
func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, actorID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1::uuid AND sender_id <> $2::uuid AND read = FALSE
	`, conversationID, actorID).Scan(&count)
	return count, err
}

// MarkMessagesRead flips the read flag on every unread message not sent by
// the reader. Idempotent: a second call affects zero rows.
func (s *PostgresStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1::uuid AND sender_id <> $2::uuid AND read = FALSE
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

const callColumns = `id, caller_id, recipient_id, kind, status, started_at, ended_at, duration_seconds`

// InsertCall creates a call record in the ringing state.
func (s *PostgresStore) InsertCall(ctx context.Context, call *models.Call) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO calls (caller_id, recipient_id, kind, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+callColumns+`
	`, call.CallerID, call.Recipient, call.Kind, call.Status).Scan(
		&call.ID,
		&call.CallerID,
		&call.Recipient,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
}

// GetCall retrieves a call by ID.
func (s *PostgresStore) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	call := &models.Call{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+callColumns+` FROM calls WHERE id = $1
	`, id).Scan(
		&call.ID,
		&call.CallerID,
		&call.Recipient,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return call, nil
}

// TransitionCall atomically moves a call from one status to another. The
// status guard in the WHERE clause is what makes terminal states absorbing:
// a transition out of a status the record no longer holds affects no rows.
func (s *PostgresStore) TransitionCall(ctx context.Context, id uuid.UUID, from, to string, endedAt *time.Time, duration int) (*models.Call, error) {
	call := &models.Call{}
	err := s.pool.QueryRow(ctx, `
		UPDATE calls
		SET status = $3, ended_at = COALESCE($4, ended_at), duration_seconds = $5
		WHERE id = $1 AND status = $2
		RETURNING `+callColumns+`
	`, id, from, to, endedAt, duration).Scan(
		&call.ID,
		&call.CallerID,
		&call.Recipient,
		&call.Kind,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
		&call.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleTransition
		}
		return nil, err
	}
	return call, nil
}

// InsertNotification stores a notification.
func (s *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, body, kind, link)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, n.UserID, n.Title, n.Body, n.Kind, n.Link).Scan(&n.ID, &n.CreatedAt)
}

// ListNotifications returns the user's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, body, kind, read, link, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Kind, &n.Read, &n.Link, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips a notification's read flag. Scoped to the
// owning user so nobody can act on another member's notifications.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2
	`, id, userID)
	return err
}

// MostRecentActivity returns the timestamp of the latest conversation activity.
func (s *PostgresStore) MostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(last_message_at) FROM conversations`).Scan(&t)
	return t, err
}
