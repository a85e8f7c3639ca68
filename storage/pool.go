package storage

import (
	"database/sql"
	"errors"
)

// AddLinks inserts freshly allocated link ids into the pool. Duplicates
// from an over-eager replenishment are ignored.
func (s *Store) AddLinks(linkIDs []string, linkType string, groupID string) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range linkIDs {
		if _, err := tx.Exec(`
			INSERT INTO link_pool (link_id, link_type, group_id) VALUES (?, ?, ?)
			ON CONFLICT(link_id) DO NOTHING`, id, linkType, groupID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PopLink removes and returns one link id from the pool, or ErrNotFound
// when the pool is empty. Callers hold the collection lock around
// PopLink and any replenishment decision so no link id is ever handed
// out twice.
func (s *Store) PopLink(linkType string) (string, error) {
	tx, err := s.Begin()
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var linkID string
	err = tx.QueryRow(`SELECT link_id FROM link_pool WHERE link_type = ? LIMIT 1`, linkType).Scan(&linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(`DELETE FROM link_pool WHERE link_id = ?`, linkID); err != nil {
		return "", err
	}
	return linkID, tx.Commit()
}

// CountLinks reports the pool size for a link type.
func (s *Store) CountLinks(linkType string) (int, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM link_pool WHERE link_type = ?`, linkType).Scan(&n)
	return n, err
}
