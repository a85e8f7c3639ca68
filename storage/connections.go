package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// AddConnection inserts a new connection row. Adding an existing chatId
// is a no-op so that a duplicated handshake trigger cannot clobber state.
func (s *Store) AddConnection(c Connection) error {
	if c.Timestamp == "" {
		c.Timestamp = nowISO()
	}
	_, err := s.Exec(`
		INSERT INTO connections (chat_id, connection_type, name, authenticated, disconnected,
			read_status, recent_message_type, preview_text, new_message_count,
			display_pic_path, crypto_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO NOTHING`,
		c.ChatID, c.ConnectionType, c.Name, c.Authenticated, c.Disconnected,
		c.ReadStatus, c.RecentMessageType, c.PreviewText, c.NewMessageCount,
		c.DisplayPicPath, c.CryptoID, c.Timestamp)
	return err
}

// GetConnection returns the connection for chatId, or ErrNotFound.
func (s *Store) GetConnection(chatID string) (*Connection, error) {
	row := s.QueryRow(`
		SELECT chat_id, connection_type, name, authenticated, disconnected,
			read_status, recent_message_type, preview_text, new_message_count,
			display_pic_path, crypto_id, notify, timestamp
		FROM connections WHERE chat_id = ?`, chatID)

	var c Connection
	err := row.Scan(&c.ChatID, &c.ConnectionType, &c.Name, &c.Authenticated, &c.Disconnected,
		&c.ReadStatus, &c.RecentMessageType, &c.PreviewText, &c.NewMessageCount,
		&c.DisplayPicPath, &c.CryptoID, &c.Notify, &c.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %s: %w", chatID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConnections returns all connections ordered by last activity,
// newest first. This is the feed ordering.
func (s *Store) ListConnections() ([]Connection, error) {
	rows, err := s.Query(`
		SELECT chat_id, connection_type, name, authenticated, disconnected,
			read_status, recent_message_type, preview_text, new_message_count,
			display_pic_path, crypto_id, notify, timestamp
		FROM connections ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Connection
	for rows.Next() {
		var c Connection
		if err := rows.Scan(&c.ChatID, &c.ConnectionType, &c.Name, &c.Authenticated, &c.Disconnected,
			&c.ReadStatus, &c.RecentMessageType, &c.PreviewText, &c.NewMessageCount,
			&c.DisplayPicPath, &c.CryptoID, &c.Notify, &c.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConnectionOnMessage refreshes the feed-facing fields after a
// message is sent or received. Inbound messages bump the unread counter.
func (s *Store) UpdateConnectionOnMessage(chatID, previewText, recentMessageType string, readStatus ReadStatus, inbound bool) error {
	bump := 0
	if inbound {
		bump = 1
	}
	_, err := s.Exec(`
		UPDATE connections
		SET preview_text = ?, recent_message_type = ?, read_status = ?,
			new_message_count = new_message_count + ?, timestamp = ?
		WHERE chat_id = ?`,
		previewText, recentMessageType, readStatus, bump, nowISO(), chatID)
	return err
}

// SetConnectionAuthenticated flips the authenticated flag.
func (s *Store) SetConnectionAuthenticated(chatID string, authenticated bool) error {
	_, err := s.Exec(`UPDATE connections SET authenticated = ? WHERE chat_id = ?`, authenticated, chatID)
	return err
}

// SetConnectionName updates the display name.
func (s *Store) SetConnectionName(chatID, name string) error {
	_, err := s.Exec(`UPDATE connections SET name = ? WHERE chat_id = ?`, name, chatID)
	return err
}

// SetConnectionDisplayPic updates the path to the peer's display picture.
func (s *Store) SetConnectionDisplayPic(chatID, path string) error {
	_, err := s.Exec(`UPDATE connections SET display_pic_path = ? WHERE chat_id = ?`, path, chatID)
	return err
}

// SetConnectionNotify toggles notification permission for a chat. New
// connections default to notifications on.
func (s *Store) SetConnectionNotify(chatID string, notify bool) error {
	_, err := s.Exec(`UPDATE connections SET notify = ? WHERE chat_id = ?`, notify, chatID)
	return err
}

// SetConnectionDisconnected marks a connection the peer has torn down.
func (s *Store) SetConnectionDisconnected(chatID string) error {
	_, err := s.Exec(`UPDATE connections SET disconnected = 1 WHERE chat_id = ?`, chatID)
	return err
}

// MarkConnectionRead resets the unread counter and read status.
func (s *Store) MarkConnectionRead(chatID string) error {
	_, err := s.Exec(`UPDATE connections SET read_status = ?, new_message_count = 0 WHERE chat_id = ?`,
		ReadStatusRead, chatID)
	return err
}

// DeleteConnection removes a connection and everything that hangs off it:
// crypto records, messages, journal entries, and group member rows.
// Explicit user action only; nothing in the protocol calls this except
// handshake teardown.
func (s *Store) DeleteConnection(chatID string) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var cryptoID string
	err = tx.QueryRow(`SELECT crypto_id FROM connections WHERE chat_id = ?`, chatID).Scan(&cryptoID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if cryptoID != "" {
		if _, err := tx.Exec(`DELETE FROM crypto_records WHERE crypto_id = ?`, cryptoID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`DELETE FROM crypto_records WHERE crypto_id IN
		(SELECT crypto_id FROM group_members WHERE chat_id = ?)`, chatID); err != nil {
		return err
	}
	for _, q := range []string{
		`DELETE FROM group_members WHERE chat_id = ?`,
		`DELETE FROM messages WHERE chat_id = ?`,
		`DELETE FROM journal WHERE chat_id = ?`,
		`DELETE FROM connections WHERE chat_id = ?`,
	} {
		if _, err := tx.Exec(q, chatID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
