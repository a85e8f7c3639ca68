package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

var (
	// ErrMediaUpload indicates the out-of-band blob upload failed. The
	// message is marked failed and never journaled: large uploads are
	// not retried through the lightweight journal.
	ErrMediaUpload = errors.New("media upload failed")

	// ErrJournalWrite indicates a send failed and the fallback journal
	// write also failed. The caller must surface the message as failed;
	// silent loss is not permitted.
	ErrJournalWrite = errors.New("journal write failed")

	// ErrNotAuthenticated indicates an application message was sent on
	// a chat with no shared secret yet.
	ErrNotAuthenticated = errors.New("connection not authenticated")
)

// Outgoing is a message to send. MessageID is assigned when empty.
// LocalPath names the source file for media content types; its
// encrypted bytes are uploaded before the envelope is transmitted.
type Outgoing struct {
	MessageID   string
	ContentType ContentType
	Data        any
	ReplyID     string
	LocalPath   string
}

// Sender transmits envelopes, persisting an outbound copy and falling
// back to the journal on network failure.
type Sender struct {
	store *storage.Store
	api   transport.API
	auth  transport.Authenticator
}

// NewSender wires a sender over the store and transport.
func NewSender(store *storage.Store, api transport.API, auth transport.Authenticator) *Sender {
	return &Sender{store: store, api: api, auth: auth}
}

// NewMessageID mints a client-generated message id. In group chats the
// sender's member id is prefixed so that two members' copies of the
// same logical exchange can never collide.
func NewMessageID(senderPrefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if senderPrefix != "" {
		return senderPrefix + "-" + id
	}
	return id
}

// Send persists an outbound copy of the message and transmits it. On
// network failure with journalOnFailure set, the message is appended to
// the journal for a later flush and returned with status journaled; a
// failed journal write or media upload returns status failed with an
// error. The returned message reflects the final stored send status.
func (s *Sender) Send(ctx context.Context, chatID string, out Outgoing, journalOnFailure, isGroup bool) (*storage.Message, error) {
	if out.MessageID == "" {
		prefix := ""
		if isGroup {
			if p, err := s.store.GetProfile(); err == nil {
				prefix = p.UserID
			}
		}
		out.MessageID = NewMessageID(prefix)
	}

	payload, err := json.Marshal(out.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", out.ContentType, err)
	}

	m := storage.Message{
		ChatID:      chatID,
		MessageID:   out.MessageID,
		ContentType: string(out.ContentType),
		Data:        string(payload),
		Sender:      true,
		ReplyID:     out.ReplyID,
		SendStatus:  storage.SendStatusUnassigned,
		Timestamp:   storage.NowISO(),
	}
	if _, err := s.store.SaveMessage(m); err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}

	return s.transmit(ctx, &m, out.LocalPath, journalOnFailure, isGroup)
}

// resend retransmits an already-persisted message from the journal.
// Persistence is skipped and failures are not re-journaled; the entry
// stays in the queue.
func (s *Sender) resend(ctx context.Context, e storage.JournalEntry, isGroup bool) error {
	m := storage.Message{
		ChatID:      e.ChatID,
		MessageID:   e.MessageID,
		ContentType: e.ContentType,
		Data:        e.Data,
		Sender:      true,
		ReplyID:     e.ReplyID,
	}
	sent, err := s.transmit(ctx, &m, "", false, isGroup)
	if err != nil {
		return err
	}
	if sent.SendStatus != storage.SendStatusSent {
		return fmt.Errorf("%w: resend %s", transport.ErrNetwork, e.MessageID)
	}
	return nil
}

func (s *Sender) transmit(ctx context.Context, m *storage.Message, localPath string, journalOnFailure, isGroup bool) (*storage.Message, error) {
	contentType := ContentType(m.ContentType)

	if contentType.Media() && localPath != "" {
		if err := s.uploadMedia(ctx, m, localPath); err != nil {
			s.markFailed(m)
			return m, fmt.Errorf("%w: %v", ErrMediaUpload, err)
		}
	}

	wire, err := s.encode(m, contentType)
	if err != nil {
		s.markFailed(m)
		return m, err
	}

	if err := s.post(ctx, m.ChatID, wire, isGroup); err != nil {
		return s.handleSendFailure(m, contentType, journalOnFailure, err)
	}

	m.SendStatus = storage.SendStatusSent
	if err := s.store.UpdateMessageSendStatus(m.ChatID, m.MessageID, storage.SendStatusSent); err != nil {
		return m, err
	}
	err = s.store.UpdateConnectionOnMessage(m.ChatID,
		Preview(contentType, json.RawMessage(m.Data)), m.ContentType,
		storage.ReadStatusSent, false)
	if err != nil {
		return m, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "transmit",
		"chat_id":      m.ChatID,
		"message_id":   m.MessageID,
		"content_type": m.ContentType,
	}).Debug("Message sent")
	return m, nil
}

// encode serializes the envelope and encrypts it with the chat's shared
// secret. Handshake envelopes travel as plaintext: no secret exists yet.
func (s *Sender) encode(m *storage.Message, contentType ContentType) (string, error) {
	env := Envelope{
		MessageID:   m.MessageID,
		ContentType: contentType,
		Data:        json.RawMessage(m.Data),
		ReplyID:     m.ReplyID,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	if contentType.Handshake() {
		return string(raw), nil
	}

	conn, err := s.store.GetConnection(m.ChatID)
	if err != nil {
		return "", err
	}
	rec, err := s.store.GetCryptoRecord(conn.CryptoID)
	if err != nil {
		return "", err
	}
	if rec.SharedSecret == "" {
		return "", fmt.Errorf("%w: chat %s", ErrNotAuthenticated, m.ChatID)
	}
	secret, err := crypto.KeyFromHex(rec.SharedSecret)
	if err != nil {
		return "", err
	}
	return crypto.EncryptString(string(raw), secret)
}

func (s *Sender) post(ctx context.Context, chatID, wire string, isGroup bool) error {
	token, err := s.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token: %v", transport.ErrNetwork, err)
	}
	if isGroup {
		return s.api.PostGroupMessage(ctx, token, chatID, wire)
	}
	return s.api.PostDirectMessage(ctx, token, chatID, wire)
}

// uploadMedia encrypts the local file under a fresh symmetric key,
// uploads the ciphertext, and rewrites the stored payload so the
// envelope carries only (mediaId, key), never the bytes.
func (s *Sender) uploadMedia(ctx context.Context, m *storage.Message, localPath string) error {
	blob, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	keyHex, err := crypto.GenerateNonceHex()
	if err != nil {
		return err
	}
	key, err := crypto.KeyFromHex(keyHex)
	if err != nil {
		return err
	}
	ciphertext, err := crypto.Encrypt(blob, key)
	if err != nil {
		return err
	}

	token, err := s.auth.Token(ctx)
	if err != nil {
		return err
	}
	ref, err := s.api.UploadEncryptedBlob(ctx, token, ciphertext)
	if err != nil {
		return err
	}

	var data MediaData
	if err := json.Unmarshal([]byte(m.Data), &data); err != nil {
		return err
	}
	data.MediaID = ref.MediaID
	data.Key = keyHex
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	m.Data = string(raw)
	return s.store.UpdateMessageData(m.ChatID, m.MessageID, m.Data)
}

func (s *Sender) handleSendFailure(m *storage.Message, contentType ContentType, journalOnFailure bool, sendErr error) (*storage.Message, error) {
	if !journalOnFailure {
		s.markFailed(m)
		return m, sendErr
	}

	err := s.store.AppendJournal(storage.JournalEntry{
		ChatID:      m.ChatID,
		MessageID:   m.MessageID,
		ContentType: m.ContentType,
		Data:        m.Data,
		ReplyID:     m.ReplyID,
	})
	if err != nil {
		s.markFailed(m)
		return m, fmt.Errorf("%w: %v", ErrJournalWrite, err)
	}

	m.SendStatus = storage.SendStatusJournaled
	if err := s.store.UpdateMessageSendStatus(m.ChatID, m.MessageID, storage.SendStatusJournaled); err != nil {
		return m, err
	}
	err = s.store.UpdateConnectionOnMessage(m.ChatID,
		Preview(contentType, json.RawMessage(m.Data)), m.ContentType,
		storage.ReadStatusJournaled, false)
	if err != nil {
		return m, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "handleSendFailure",
		"chat_id":    m.ChatID,
		"message_id": m.MessageID,
		"error":      sendErr.Error(),
	}).Info("Send failed, message journaled")
	return m, nil
}

func (s *Sender) markFailed(m *storage.Message) {
	m.SendStatus = storage.SendStatusFailed
	if err := s.store.UpdateMessageSendStatus(m.ChatID, m.MessageID, storage.SendStatusFailed); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "markFailed",
			"chat_id":    m.ChatID,
			"message_id": m.MessageID,
			"error":      err.Error(),
		}).Error("Failed to record message failure")
	}
}
