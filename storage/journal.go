package storage

// AppendJournal queues an outbound message that failed to send. Entries
// keep their payload in full so a resend needs no other state.
func (s *Store) AppendJournal(e JournalEntry) error {
	_, err := s.Exec(`
		INSERT INTO journal (chat_id, message_id, content_type, data, reply_id)
		VALUES (?, ?, ?, ?, ?)`,
		e.ChatID, e.MessageID, e.ContentType, e.Data, e.ReplyID)
	return err
}

// JournalEntries returns the queue in FIFO order.
func (s *Store) JournalEntries() ([]JournalEntry, error) {
	rows, err := s.Query(`
		SELECT seq, chat_id, message_id, content_type, data, reply_id
		FROM journal ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.Seq, &e.ChatID, &e.MessageID, &e.ContentType, &e.Data, &e.ReplyID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveJournalEntry drops a single entry after a confirmed send or an
// explicit discard.
func (s *Store) RemoveJournalEntry(seq int64) error {
	_, err := s.Exec(`DELETE FROM journal WHERE seq = ?`, seq)
	return err
}

// JournalLength reports the number of queued entries.
func (s *Store) JournalLength() (int, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM journal`).Scan(&n)
	return n, err
}
