package message

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/storage"
)

// Journal drains messages queued by failed sends. Entries leave the
// queue strictly in append order; the first failed resend stops the
// drain so per-chat ordering survives across flushes.
type Journal struct {
	store  *storage.Store
	sender *Sender
}

// NewJournal wires a journal drain over the store and sender.
func NewJournal(store *storage.Store, sender *Sender) *Journal {
	return &Journal{store: store, sender: sender}
}

// Flush attempts to resend journaled messages FIFO, stopping at the
// first failure and leaving the remaining entries queued in order.
// Returns the number of messages sent. A failed resend is not an error;
// the entry simply waits for the next flush.
func (j *Journal) Flush(ctx context.Context) (int, error) {
	entries, err := j.store.JournalEntries()
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range entries {
		conn, err := j.store.GetConnection(e.ChatID)
		if errors.Is(err, storage.ErrNotFound) {
			// The chat was deleted while the entry waited. Drop it.
			if err := j.store.RemoveJournalEntry(e.Seq); err != nil {
				return sent, err
			}
			continue
		}
		if err != nil {
			return sent, err
		}

		isGroup := conn.ConnectionType == storage.ConnectionGroup
		if err := j.sender.resend(ctx, e, isGroup); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Flush",
				"chat_id":    e.ChatID,
				"message_id": e.MessageID,
				"error":      err.Error(),
			}).Info("Journal drain stopped at first failure")
			break
		}
		if err := j.store.RemoveJournalEntry(e.Seq); err != nil {
			return sent, err
		}
		sent++
	}

	if sent > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Flush",
			"sent":     sent,
		}).Debug("Journal flushed")
	}
	return sent, nil
}

// Len returns the number of queued entries.
func (j *Journal) Len() (int, error) {
	return j.store.JournalLength()
}
