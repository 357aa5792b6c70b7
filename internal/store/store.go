// Package store persists chat messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omochice/library-chat/internal/chat"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_type   TEXT NOT NULL,
	sender_id     TEXT NOT NULL,
	sender_name   TEXT NOT NULL DEFAULT '',
	receiver_type TEXT NOT NULL,
	receiver_id   TEXT NOT NULL,
	receiver_name TEXT NOT NULL DEFAULT '',
	message       TEXT NOT NULL,
	timestamp     DATETIME NOT NULL,
	is_read       BOOLEAN NOT NULL DEFAULT 0,
	message_type  TEXT NOT NULL DEFAULT 'TEXT',
	file_id       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_receiver ON chat_messages (receiver_id, receiver_type, is_read);
CREATE INDEX IF NOT EXISTS idx_chat_messages_sender ON chat_messages (sender_id, sender_type);
`

const columns = `id, sender_type, sender_id, sender_name, receiver_type, receiver_id, receiver_name,
	message, timestamp, is_read, message_type, file_id`

// Store is a SQLite backed chat.MessageStore.
type Store struct {
	db *sql.DB
}

var _ chat.MessageStore = (*Store)(nil)

// Open opens the database at dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dsn, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts m and returns its new identifier.
func (s *Store) Save(ctx context.Context, m *chat.Message) (int64, error) {
	typ := m.Type
	if typ == "" {
		typ = chat.MessageTypeText
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (sender_type, sender_id, sender_name, receiver_type, receiver_id,
			receiver_name, message, timestamp, is_read, message_type, file_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.Sender.Kind), m.Sender.ID, m.Sender.Name,
		string(m.Receiver.Kind), m.Receiver.ID, m.Receiver.Name,
		m.Body, ts.UTC(), m.IsRead, string(typ), nullInt64(m.FileID),
	)
	if err != nil {
		return 0, fmt.Errorf("store: save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: save message: %w", err)
	}
	return id, nil
}

// MarkAsRead flags every unread message sent by sender to receiver as read
// and reports how many rows changed.
func (s *Store) MarkAsRead(ctx context.Context, receiver, sender chat.Key) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET is_read = 1
		WHERE receiver_id = ? AND receiver_type = ? AND sender_id = ? AND sender_type = ? AND is_read = 0`,
		receiver.ID, string(receiver.Kind), sender.ID, string(sender.Kind),
	)
	if err != nil {
		return 0, fmt.Errorf("store: mark as read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: mark as read: %w", err)
	}
	return n, nil
}

// Conversation returns every message exchanged between a and b, oldest
// first.
func (s *Store) Conversation(ctx context.Context, a, b chat.Key) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM chat_messages
		WHERE (sender_id = ? AND sender_type = ? AND receiver_id = ? AND receiver_type = ?)
		   OR (sender_id = ? AND sender_type = ? AND receiver_id = ? AND receiver_type = ?)
		ORDER BY id ASC`,
		a.ID, string(a.Kind), b.ID, string(b.Kind),
		b.ID, string(b.Kind), a.ID, string(a.Kind),
	)
	if err != nil {
		return nil, fmt.Errorf("store: conversation: %w", err)
	}
	return scanMessages(rows)
}

// LatestPerPeer returns, for every participant p has exchanged messages
// with, the most recent message of that conversation. Newest first.
func (s *Store) LatestPerPeer(ctx context.Context, p chat.Key) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM chat_messages WHERE id IN (
			SELECT MAX(id) FROM chat_messages
			WHERE (sender_id = ? AND sender_type = ?) OR (receiver_id = ? AND receiver_type = ?)
			GROUP BY
				CASE WHEN sender_id = ? AND sender_type = ? THEN receiver_id ELSE sender_id END,
				CASE WHEN sender_id = ? AND sender_type = ? THEN receiver_type ELSE sender_type END
		)
		ORDER BY id DESC`,
		p.ID, string(p.Kind), p.ID, string(p.Kind),
		p.ID, string(p.Kind), p.ID, string(p.Kind),
	)
	if err != nil {
		return nil, fmt.Errorf("store: latest messages: %w", err)
	}
	return scanMessages(rows)
}

// UnreadCount returns how many messages addressed to receiver are unread.
func (s *Store) UnreadCount(ctx context.Context, receiver chat.Key) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE receiver_id = ? AND receiver_type = ? AND is_read = 0`,
		receiver.ID, string(receiver.Kind),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m                        chat.Message
			senderKind, receiverKind string
			typ                      string
			fileID                   sql.NullInt64
		)
		if err := rows.Scan(
			&m.ID, &senderKind, &m.Sender.ID, &m.Sender.Name,
			&receiverKind, &m.Receiver.ID, &m.Receiver.Name,
			&m.Body, &m.Timestamp, &m.IsRead, &typ, &fileID,
		); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		m.Sender.Kind = chat.Kind(senderKind)
		m.Receiver.Kind = chat.Kind(receiverKind)
		m.Type = chat.MessageType(typ)
		if fileID.Valid {
			id := fileID.Int64
			m.FileID = &id
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan message: %w", err)
	}
	return msgs, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
