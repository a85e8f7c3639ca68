package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveCryptoRecord inserts or fully replaces the key material for a
// crypto id.
func (s *Store) SaveCryptoRecord(r CryptoRecord) error {
	_, err := s.Exec(`
		INSERT INTO crypto_records (crypto_id, private_key, public_key, peer_public_key,
			peer_public_key_hash, shared_secret, nonce)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(crypto_id) DO UPDATE SET
			private_key = excluded.private_key,
			public_key = excluded.public_key,
			peer_public_key = excluded.peer_public_key,
			peer_public_key_hash = excluded.peer_public_key_hash,
			shared_secret = excluded.shared_secret,
			nonce = excluded.nonce`,
		r.CryptoID, r.PrivateKey, r.PublicKey, r.PeerPublicKey,
		r.PeerPublicKeyHash, r.SharedSecret, r.Nonce)
	return err
}

// GetCryptoRecord returns the key material for a crypto id, or
// ErrNotFound.
func (s *Store) GetCryptoRecord(cryptoID string) (*CryptoRecord, error) {
	row := s.QueryRow(`
		SELECT crypto_id, private_key, public_key, peer_public_key,
			peer_public_key_hash, shared_secret, nonce
		FROM crypto_records WHERE crypto_id = ?`, cryptoID)

	var r CryptoRecord
	err := row.Scan(&r.CryptoID, &r.PrivateKey, &r.PublicKey, &r.PeerPublicKey,
		&r.PeerPublicKeyHash, &r.SharedSecret, &r.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("crypto record %s: %w", cryptoID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
