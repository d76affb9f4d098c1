package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/atelierhq/atelier/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the local
// development fallback when no PostgreSQL URL is configured; health
// reporting labels it so clients can tell it apart from the live store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/atelier.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/atelier.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_message_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
		ON conversations (MIN(participant_a, participant_b), MAX(participant_a, participant_b));
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message ON conversations (last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		attachment_url TEXT NOT NULL DEFAULT '',
		attachment_name TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);

	CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		caller_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ringing',
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		duration_seconds INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_calls_recipient ON calls (recipient_id, started_at);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		read INTEGER NOT NULL DEFAULT 0,
		link TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Mode identifies the store implementation for health reporting.
func (s *SQLiteStore) Mode() string {
	return "sqlite"
}

// UpsertProfile creates a profile or refreshes its display name.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, id uuid.UUID, displayName string) (*models.Profile, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE profiles.display_name END,
			updated_at = excluded.updated_at
	`, id.String(), displayName, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, id)
}

// GetProfile retrieves a profile by ID.
func (s *SQLiteStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p := &models.Profile{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url, bio, created_at, updated_at
		FROM profiles WHERE id = ?
	`, id.String()).Scan(&idStr, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SearchProfiles finds profiles whose display name contains the query.
func (s *SQLiteStore) SearchProfiles(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, avatar_url, bio, created_at, updated_at
		FROM profiles
		WHERE display_name LIKE '%' || ? || '%'
		ORDER BY display_name
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var p models.Profile
		var idStr string
		if err := rows.Scan(&idStr, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountProfiles returns the total number of profiles.
func (s *SQLiteStore) CountProfiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

// CreateOrGetConversation returns the conversation for the unordered pair,
// inserting it if absent.
func (s *SQLiteStore) CreateOrGetConversation(ctx context.Context, a, b uuid.UUID) (*models.Conversation, bool, error) {
	conv, err := s.getConversationByPair(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	if conv != nil {
		return conv, false, nil
	}

	now := time.Now().UTC()
	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations (id, participant_a, participant_b, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), a.String(), b.String(), now, now)
	if err != nil {
		return nil, false, err
	}

	conv, err = s.getConversationByPair(ctx, a, b)
	if err != nil {
		return nil, false, err
	}
	return conv, conv != nil && conv.ID == id, nil
}

func (s *SQLiteStore) getConversationByPair(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, created_at, last_message_at
		FROM conversations
		WHERE (participant_a = ? AND participant_b = ?)
		   OR (participant_a = ? AND participant_b = ?)
	`, a.String(), b.String(), b.String(), a.String())
	return scanConversationRow(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversationRow(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr, aStr, bStr string
	err := row.Scan(&idStr, &aStr, &bStr, &conv.CreatedAt, &conv.LastMessageAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if conv.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if conv.ParticipantA, err = uuid.Parse(aStr); err != nil {
		return nil, err
	}
	if conv.ParticipantB, err = uuid.Parse(bStr); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, created_at, last_message_at
		FROM conversations WHERE id = ?
	`, id.String())
	return scanConversationRow(row)
}

// ListConversations returns the actor's conversations, most recent activity first.
func (s *SQLiteStore) ListConversations(ctx context.Context, actorID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_a, participant_b, created_at, last_message_at
		FROM conversations
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY last_message_at DESC
	`, actorID.String(), actorID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// TouchConversation updates the last activity timestamp.
func (s *SQLiteStore) TouchConversation(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, at.UTC(), id.String())
	return err
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// InsertMessage stores a message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	fillMessageDefaults(msg)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.Kind, msg.AttachmentURL, msg.AttachmentName, msg.Read, msg.Timestamp)
	return err
}

// ListMessages returns messages in ascending creation order (see DataStore).
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts
			FROM messages WHERE conversation_id = ?
			ORDER BY id ASC
		`, conversationID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanSQLiteMessages(rows)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if before == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts
			FROM messages WHERE conversation_id = ?
			ORDER BY id DESC
			LIMIT ?
		`, conversationID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts
			FROM messages WHERE conversation_id = ? AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`, conversationID, before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanSQLiteMessages(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func scanSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
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
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	m := &models.Message{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, body, kind, attachment_url, attachment_name, read, ts
		FROM messages WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, conversationID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Kind,
		&m.AttachmentURL, &m.AttachmentName, &m.Read, &m.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// CountUnread counts messages the actor has not read.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, actorID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND read = 0
	`, conversationID, actorID).Scan(&count)
	return count, err
}

// MarkMessagesRead flips the read flag on unread counterpart messages.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id <> ? AND read = 0
	`, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// InsertCall creates a call record.
func (s *SQLiteStore) InsertCall(ctx context.Context, call *models.Call) error {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calls (id, caller_id, recipient_id, kind, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, call.ID.String(), call.CallerID.String(), call.Recipient.String(), call.Kind, call.Status, call.StartedAt)
	return err
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, caller_id, recipient_id, kind, status, started_at, ended_at, duration_seconds
		FROM calls WHERE id = ?
	`, id.String())
	return scanCallRow(row)
}

func scanCallRow(row rowScanner) (*models.Call, error) {
	call := &models.Call{}
	var idStr, callerStr, recipientStr string
	var endedAt sql.NullTime
	err := row.Scan(&idStr, &callerStr, &recipientStr, &call.Kind, &call.Status,
		&call.StartedAt, &endedAt, &call.Duration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if call.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	if call.CallerID, err = uuid.Parse(callerStr); err != nil {
		return nil, err
	}
	if call.Recipient, err = uuid.Parse(recipientStr); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		call.EndedAt = &endedAt.Time
	}
	return call, nil
}

// TransitionCall atomically moves a call from one status to another.
func (s *SQLiteStore) TransitionCall(ctx context.Context, id uuid.UUID, from, to string, endedAt *time.Time, duration int) (*models.Call, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE calls
		SET status = ?, ended_at = COALESCE(?, ended_at), duration_seconds = ?
		WHERE id = ? AND status = ?
	`, to, endedAt, duration, id.String(), from)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrStaleTransition
	}
	return s.GetCall(ctx, id)
}

// InsertNotification stores a notification.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, body, kind, read, link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID.String(), n.UserID.String(), n.Title, n.Body, n.Kind, n.Read, n.Link, n.CreatedAt)
	return err
}

// ListNotifications returns the user's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, body, kind, read, link, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		var idStr, userStr string
		if err := rows.Scan(&idStr, &userStr, &n.Title, &n.Body, &n.Kind, &n.Read, &n.Link, &n.CreatedAt); err != nil {
			return nil, err
		}
		if n.ID, err = uuid.Parse(idStr); err != nil {
			return nil, err
		}
		if n.UserID, err = uuid.Parse(userStr); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips a notification's read flag.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?
	`, id.String(), userID.String())
	return err
}

// MostRecentActivity returns the timestamp of the latest conversation activity.
func (s *SQLiteStore) MostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_message_at) FROM conversations`).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}
