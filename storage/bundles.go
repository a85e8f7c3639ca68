package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveGeneratedBundle persists the local side of a freshly generated
// bundle, keyed by the consumed link id.
func (s *Store) SaveGeneratedBundle(b GeneratedBundle) error {
	if b.Timestamp == "" {
		b.Timestamp = nowISO()
	}
	_, err := s.Exec(`
		INSERT INTO generated_bundles (link_id, connection_type, label, nonce,
			public_key, private_key, public_key_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO UPDATE SET label = excluded.label`,
		b.LinkID, b.ConnectionType, b.Label, b.Nonce,
		b.PublicKey, b.PrivateKey, b.PublicKeyHash, b.Timestamp)
	return err
}

// GetGeneratedBundle returns the generated bundle for a link id, or
// ErrNotFound. Expiry is the bundle manager's concern.
func (s *Store) GetGeneratedBundle(linkID string) (*GeneratedBundle, error) {
	row := s.QueryRow(`
		SELECT link_id, connection_type, label, nonce, public_key, private_key,
			public_key_hash, timestamp
		FROM generated_bundles WHERE link_id = ?`, linkID)

	var b GeneratedBundle
	err := row.Scan(&b.LinkID, &b.ConnectionType, &b.Label, &b.Nonce, &b.PublicKey,
		&b.PrivateKey, &b.PublicKeyHash, &b.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("generated bundle %s: %w", linkID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListGeneratedBundles returns every live generated bundle.
func (s *Store) ListGeneratedBundles() ([]GeneratedBundle, error) {
	rows, err := s.Query(`
		SELECT link_id, connection_type, label, nonce, public_key, private_key,
			public_key_hash, timestamp
		FROM generated_bundles ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []GeneratedBundle
	for rows.Next() {
		var b GeneratedBundle
		if err := rows.Scan(&b.LinkID, &b.ConnectionType, &b.Label, &b.Nonce, &b.PublicKey,
			&b.PrivateKey, &b.PublicKeyHash, &b.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteGeneratedBundle removes a generated bundle after consumption or
// expiry.
func (s *Store) DeleteGeneratedBundle(linkID string) error {
	_, err := s.Exec(`DELETE FROM generated_bundles WHERE link_id = ?`, linkID)
	return err
}

// SaveReadBundle persists a read bundle whose chat creation failed for
// network reasons, to be retried later.
func (s *Store) SaveReadBundle(b ReadBundle) error {
	if b.Timestamp == "" {
		b.Timestamp = nowISO()
	}
	_, err := s.Exec(`
		INSERT INTO read_bundles (link_id, raw, timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(link_id) DO NOTHING`,
		b.LinkID, b.Raw, b.Timestamp)
	return err
}

// ListReadBundles returns all pending read bundles, oldest first.
func (s *Store) ListReadBundles() ([]ReadBundle, error) {
	rows, err := s.Query(`SELECT link_id, raw, timestamp FROM read_bundles ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ReadBundle
	for rows.Next() {
		var b ReadBundle
		if err := rows.Scan(&b.LinkID, &b.Raw, &b.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteReadBundle removes a pending read bundle.
func (s *Store) DeleteReadBundle(linkID string) error {
	_, err := s.Exec(`DELETE FROM read_bundles WHERE link_id = ?`, linkID)
	return err
}
