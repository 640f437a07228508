package pg

import (
	"context"
	"time"

	"github.com/akatsuki/bancho/internal/bancherr"
)

// Message is a persisted chat line, grounded on
// original_source/src/repositories/messages.rs's send/fetch_unread_messages
// shape.
type Message struct {
	ID          int64
	FromID      int64
	Target      string
	Text        string
	RecipientID *int64
	Unread      bool
	Time        int64
}

// messageStatus mirrors messages.rs's status column: 0 is a live message,
// 1 marks it deleted (used by ChatMessage's auto-silence cleanup).
const (
	messageStatusActive  = 0
	messageStatusDeleted = 1
)

// MessageStore persists chat history, grounded on
// original_source/src/repositories/messages.rs.
type MessageStore struct {
	db *DB
}

// NewMessageStore constructs a MessageStore.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert records a chat line, mirroring messages.rs::send. recipientID is
// nil for channel messages; unread only applies to private messages sent
// to an offline recipient.
func (s *MessageStore) Insert(ctx context.Context, fromID int64, target, text string, recipientID *int64, unread bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (from_id, target, message, "time", recipient_id, unread, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fromID, target, text, time.Now().Unix(), recipientID, unread, messageStatusActive)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "recording message", err)
	}
	return nil
}

// FetchUnread returns every unread private message addressed to
// recipientUserID, oldest first, mirroring
// messages.rs::fetch_unread_messages.
func (s *MessageStore) FetchUnread(ctx context.Context, recipientUserID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, target, message, recipient_id, unread, "time"
		 FROM messages WHERE recipient_id = $1 AND unread = true AND status = $2
		 ORDER BY "time" ASC`, recipientUserID, messageStatusActive)
	if err != nil {
		return nil, bancherr.Wrap(bancherr.InternalServerError, "fetching unread messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.FromID, &m.Target, &m.Text, &m.RecipientID, &m.Unread, &m.Time); err != nil {
			return nil, bancherr.Wrap(bancherr.InternalServerError, "scanning message row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkAllRead clears the unread flag for every message addressed to
// recipientUserID, mirroring messages.rs::mark_all_read. Called once the
// welcome packet has embedded them.
func (s *MessageStore) MarkAllRead(ctx context.Context, recipientUserID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET unread = false WHERE recipient_id = $1 AND unread = true", recipientUserID)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "marking messages read", err)
	}
	return nil
}

// CountRecentBySender counts fromID's messages sent within the last
// window, mirroring messages.rs::message_count; ChatMessage's anti-spam
// gate calls this before persisting a new line.
func (s *MessageStore) CountRecentBySender(ctx context.Context, fromID int64, window time.Duration) (int, error) {
	since := time.Now().Add(-window).Unix()
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE from_id = $1 AND "time" > $2`, fromID, since).Scan(&count)
	if err != nil {
		return 0, bancherr.Wrap(bancherr.InternalServerError, "counting recent messages", err)
	}
	return count, nil
}

// MarkRecentDeleted flags fromID's messages sent within the last window as
// deleted, used when an auto-silence trigger retroactively redacts the
// burst that caused it.
func (s *MessageStore) MarkRecentDeleted(ctx context.Context, fromID int64, window time.Duration) error {
	since := time.Now().Add(-window).Unix()
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $1 WHERE from_id = $2 AND "time" > $3`, messageStatusDeleted, fromID, since)
	if err != nil {
		return bancherr.Wrap(bancherr.InternalServerError, "redacting recent messages", err)
	}
	return nil
}
