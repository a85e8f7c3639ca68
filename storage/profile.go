package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveProfile writes the device's local identity (single row).
func (s *Store) SaveProfile(p Profile) error {
	_, err := s.Exec(`
		INSERT INTO profile (id, name, avatar_path, user_id, shared_secret)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar_path = excluded.avatar_path,
			user_id = excluded.user_id,
			shared_secret = excluded.shared_secret`,
		p.Name, p.AvatarPath, p.UserID, p.SharedSecret)
	return err
}

// GetProfile returns the local identity, or ErrNotFound before init.
func (s *Store) GetProfile() (*Profile, error) {
	row := s.QueryRow(`SELECT name, avatar_path, user_id, shared_secret FROM profile WHERE id = 1`)
	var p Profile
	err := row.Scan(&p.Name, &p.AvatarPath, &p.UserID, &p.SharedSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveToken caches a short-lived auth token with its issue time.
func (s *Store) SaveToken(token, timestamp string) error {
	if timestamp == "" {
		timestamp = nowISO()
	}
	_, err := s.Exec(`
		INSERT INTO auth_token (id, token, timestamp) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, timestamp = excluded.timestamp`,
		token, timestamp)
	return err
}

// GetToken returns the cached token and its issue time, or ErrNotFound.
func (s *Store) GetToken() (token string, timestamp string, err error) {
	row := s.QueryRow(`SELECT token, timestamp FROM auth_token WHERE id = 1`)
	err = row.Scan(&token, &timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("auth token: %w", ErrNotFound)
	}
	return token, timestamp, err
}

// AddGroupMember records a member of a group chat.
func (s *Store) AddGroupMember(m GroupMember) error {
	_, err := s.Exec(`
		INSERT INTO group_members (chat_id, member_id, name, crypto_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, member_id) DO UPDATE SET
			name = excluded.name,
			crypto_id = CASE WHEN excluded.crypto_id != '' THEN excluded.crypto_id ELSE group_members.crypto_id END`,
		m.ChatID, m.MemberID, m.Name, m.CryptoID)
	return err
}

// GetGroupMember returns one member row, or ErrNotFound.
func (s *Store) GetGroupMember(chatID, memberID string) (*GroupMember, error) {
	row := s.QueryRow(`
		SELECT chat_id, member_id, name, crypto_id
		FROM group_members WHERE chat_id = ? AND member_id = ?`, chatID, memberID)
	var m GroupMember
	err := row.Scan(&m.ChatID, &m.MemberID, &m.Name, &m.CryptoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group member %s/%s: %w", chatID, memberID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListGroupMembers returns all members of a group chat.
func (s *Store) ListGroupMembers(chatID string) ([]GroupMember, error) {
	rows, err := s.Query(`
		SELECT chat_id, member_id, name, crypto_id
		FROM group_members WHERE chat_id = ? ORDER BY member_id ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.ChatID, &m.MemberID, &m.Name, &m.CryptoID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
