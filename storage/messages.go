package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveMessage persists a message. The insert is idempotent on
// (chat_id, message_id): a duplicate push delivery re-persisting the same
// message is a no-op, never an error. Returns whether a row was inserted.
func (s *Store) SaveMessage(m Message) (bool, error) {
	if m.Timestamp == "" {
		m.Timestamp = nowISO()
	}
	res, err := s.Exec(`
		INSERT INTO messages (chat_id, message_id, content_type, data, sender,
			member_id, reply_id, send_status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, message_id) DO NOTHING`,
		m.ChatID, m.MessageID, m.ContentType, m.Data, m.Sender,
		m.MemberID, m.ReplyID, m.SendStatus, m.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetMessage returns a single message, or ErrNotFound.
func (s *Store) GetMessage(chatID, messageID string) (*Message, error) {
	row := s.QueryRow(`
		SELECT chat_id, message_id, content_type, data, sender, member_id,
			reply_id, send_status, timestamp
		FROM messages WHERE chat_id = ? AND message_id = ?`, chatID, messageID)

	var m Message
	err := row.Scan(&m.ChatID, &m.MessageID, &m.ContentType, &m.Data, &m.Sender,
		&m.MemberID, &m.ReplyID, &m.SendStatus, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s/%s: %w", chatID, messageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns all messages for a chat in timestamp order.
func (s *Store) ListMessages(chatID string) ([]Message, error) {
	rows, err := s.Query(`
		SELECT chat_id, message_id, content_type, data, sender, member_id,
			reply_id, send_status, timestamp
		FROM messages WHERE chat_id = ? ORDER BY timestamp ASC, rowid ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ChatID, &m.MessageID, &m.ContentType, &m.Data, &m.Sender,
			&m.MemberID, &m.ReplyID, &m.SendStatus, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageSendStatus records a delivery state transition.
func (s *Store) UpdateMessageSendStatus(chatID, messageID string, status SendStatus) error {
	_, err := s.Exec(`UPDATE messages SET send_status = ? WHERE chat_id = ? AND message_id = ?`,
		status, chatID, messageID)
	return err
}

// UpdateMessageData replaces a message's content payload. Used when a
// media upload assigns a mediaId/key pair, and when a download replaces
// them with a local file reference.
func (s *Store) UpdateMessageData(chatID, messageID, data string) error {
	_, err := s.Exec(`UPDATE messages SET data = ? WHERE chat_id = ? AND message_id = ?`,
		data, chatID, messageID)
	return err
}

// CountMessages reports how many messages a chat holds.
func (s *Store) CountMessages(chatID string) (int, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}
