package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

// Handshaker consumes the key-exchange events the receive path cannot
// interpret itself. Implemented by the handshake state machine and
// wired in by the client.
type Handshaker interface {
	// HandleNewChat reacts to a peer consuming one of our links: a chat
	// now exists and the first key-exchange message must be sent.
	HandleNewChat(ctx context.Context, chatID, linkID string) error
	// HandleA1 processes the initiator's public key disclosure.
	HandleA1(ctx context.Context, chatID string, data HandshakeA1Data) error
	// HandleB2 processes the responder's key disclosure and nonce proof.
	HandleB2(ctx context.Context, chatID string, data HandshakeB2Data) error
}

// Receiver decrypts inbound pushes and dispatches them by content type.
// Receiving the same payload twice is a no-op: (chatId, messageId)
// uniqueness in the store is the de-duplication mechanism.
type Receiver struct {
	store     *storage.Store
	api       transport.API
	auth      transport.Authenticator
	handshake Handshaker

	// MediaDir is where auto-downloaded blobs are written, in
	// chat-scoped subdirectories.
	MediaDir string

	// OnMessage is invoked for every newly persisted inbound message.
	OnMessage func(m storage.Message)
	// Notify raises a local notification. Gated on the connection's
	// notification permission and on ForegroundChat.
	Notify func(chatID, preview string)
	// ForegroundChat reports the chat currently on screen, if any.
	// Notifications for that chat are suppressed.
	ForegroundChat func() string
	// DownloadAllowed gates auto-download of media payloads per chat.
	// Nil means always download.
	DownloadAllowed func(chatID string, contentType ContentType) bool
}

// NewReceiver wires a receiver. Hooks are optional fields set after
// construction.
func NewReceiver(store *storage.Store, api transport.API, auth transport.Authenticator, handshake Handshaker, mediaDir string) *Receiver {
	return &Receiver{store: store, api: api, auth: auth, handshake: handshake, MediaDir: mediaDir}
}

// Receive routes one raw push: disconnect notices, new-chat events,
// group messages, and direct messages.
func (r *Receiver) Receive(ctx context.Context, raw transport.RawMessage) error {
	switch {
	case raw.Deletion:
		return r.receiveDisconnect(raw)
	case raw.GroupID != "":
		return r.receiveGroup(ctx, raw)
	case raw.LinkID != "":
		return r.handshake.HandleNewChat(ctx, raw.ChatID, raw.LinkID)
	case raw.ChatID != "":
		return r.receiveDirect(ctx, raw)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Receive",
	}).Warn("Discarding push with no routable fields")
	return nil
}

func (r *Receiver) receiveDisconnect(raw transport.RawMessage) error {
	chatID := raw.ChatID
	if chatID == "" {
		chatID = raw.GroupID
	}
	if err := r.store.SetConnectionDisconnected(chatID); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "receiveDisconnect",
		"chat_id":  chatID,
	}).Info("Peer disconnected chat")
	return nil
}

func (r *Receiver) receiveDirect(ctx context.Context, raw transport.RawMessage) error {
	conn, err := r.store.GetConnection(raw.ChatID)
	if errors.Is(err, storage.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "receiveDirect",
			"chat_id":  raw.ChatID,
		}).Warn("Message for unknown chat discarded")
		return nil
	}
	if err != nil {
		return err
	}

	if !conn.Authenticated {
		// No shared secret yet: only plaintext key-exchange envelopes
		// are meaningful on this chat.
		var env Envelope
		if err := json.Unmarshal([]byte(raw.Ciphertext), &env); err != nil {
			return fmt.Errorf("unauthenticated chat %s: %w", raw.ChatID, err)
		}
		switch env.ContentType {
		case ContentHandshakeA1:
			var data HandshakeA1Data
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return err
			}
			return r.handshake.HandleA1(ctx, raw.ChatID, data)
		case ContentHandshakeB2:
			var data HandshakeB2Data
			if err := json.Unmarshal(env.Data, &data); err != nil {
				return err
			}
			return r.handshake.HandleB2(ctx, raw.ChatID, data)
		}
		logrus.WithFields(logrus.Fields{
			"function":     "receiveDirect",
			"chat_id":      raw.ChatID,
			"content_type": env.ContentType,
		}).Warn("Non-handshake content on unauthenticated chat discarded")
		return nil
	}

	env, err := r.decrypt(conn, raw.Ciphertext)
	if err != nil {
		return err
	}
	return r.dispatch(ctx, conn, env, "")
}

func (r *Receiver) receiveGroup(ctx context.Context, raw transport.RawMessage) error {
	conn, err := r.store.GetConnection(raw.GroupID)
	if errors.Is(err, storage.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "receiveGroup",
			"group_id": raw.GroupID,
		}).Warn("Message for unknown group discarded")
		return nil
	}
	if err != nil {
		return err
	}

	env, err := r.decrypt(conn, raw.Ciphertext)
	if err != nil {
		return err
	}
	if raw.MemberID != "" {
		if err := r.ensureMember(conn.ChatID, raw.MemberID); err != nil {
			return err
		}
	}
	return r.dispatch(ctx, conn, env, raw.MemberID)
}

// ensureMember lazily materializes the member row and its crypto record
// on the first message from that member.
func (r *Receiver) ensureMember(chatID, memberID string) error {
	_, err := r.store.GetGroupMember(chatID, memberID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	cryptoID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := r.store.SaveCryptoRecord(storage.CryptoRecord{CryptoID: cryptoID}); err != nil {
		return err
	}
	return r.store.AddGroupMember(storage.GroupMember{
		ChatID:   chatID,
		MemberID: memberID,
		CryptoID: cryptoID,
	})
}

func (r *Receiver) decrypt(conn *storage.Connection, ciphertext string) (*Envelope, error) {
	rec, err := r.store.GetCryptoRecord(conn.CryptoID)
	if err != nil {
		return nil, err
	}
	secret, err := crypto.KeyFromHex(rec.SharedSecret)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.DecryptString(ciphertext, secret)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", conn.ChatID, err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(plain), &env); err != nil {
		return nil, fmt.Errorf("chat %s envelope: %w", conn.ChatID, err)
	}
	return &env, nil
}

func (r *Receiver) dispatch(ctx context.Context, conn *storage.Connection, env *Envelope, memberID string) error {
	switch env.ContentType {
	case ContentName:
		return r.applyName(conn, env, memberID)
	case ContentDisplayImage:
		return r.applyDisplayImage(ctx, conn, env)
	case ContentHandshakeA1, ContentHandshakeB2:
		// Authenticated chats have no business receiving these; the
		// machine's idempotence guards make a late duplicate harmless.
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"chat_id":  conn.ChatID,
		}).Debug("Duplicate handshake message on authenticated chat ignored")
		return nil
	}
	return r.persistInbound(ctx, conn, env, memberID)
}

// applyName records the sender's announced display name. A direct
// connection keeps the name the bundle label gave it; only unnamed
// connections take the peer's announcement.
func (r *Receiver) applyName(conn *storage.Connection, env *Envelope, memberID string) error {
	var data NameData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	if memberID != "" {
		return r.store.AddGroupMember(storage.GroupMember{
			ChatID:   conn.ChatID,
			MemberID: memberID,
			Name:     data.Name,
		})
	}
	if conn.Name != "" {
		return nil
	}
	return r.store.SetConnectionName(conn.ChatID, data.Name)
}

func (r *Receiver) applyDisplayImage(ctx context.Context, conn *storage.Connection, env *Envelope) error {
	var data MediaData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return err
	}
	path, err := r.download(ctx, conn.ChatID, env.MessageID, &data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "applyDisplayImage",
			"chat_id":  conn.ChatID,
			"error":    err.Error(),
		}).Warn("Display picture download failed")
		return nil
	}
	return r.store.SetConnectionDisplayPic(conn.ChatID, path)
}

// persistInbound stores the message, auto-downloads media when
// permitted, updates the feed row, and surfaces the message through the
// hooks. Duplicate payloads stop at the store: the insert is a no-op
// and nothing downstream runs again.
func (r *Receiver) persistInbound(ctx context.Context, conn *storage.Connection, env *Envelope, memberID string) error {
	m := storage.Message{
		ChatID:      conn.ChatID,
		MessageID:   env.MessageID,
		ContentType: string(env.ContentType),
		Data:        string(env.Data),
		Sender:      false,
		MemberID:    memberID,
		ReplyID:     env.ReplyID,
		SendStatus:  storage.SendStatusDelivered,
		Timestamp:   storage.NowISO(),
	}
	inserted, err := r.store.SaveMessage(m)
	if err != nil {
		return err
	}
	if !inserted {
		logrus.WithFields(logrus.Fields{
			"function":   "persistInbound",
			"chat_id":    m.ChatID,
			"message_id": m.MessageID,
		}).Debug("Duplicate push ignored")
		return nil
	}

	contentType := env.ContentType
	if contentType.Media() && r.downloadAllowed(conn.ChatID, contentType) {
		var data MediaData
		if err := json.Unmarshal(env.Data, &data); err == nil && data.MediaID != "" {
			if path, err := r.download(ctx, conn.ChatID, env.MessageID, &data); err == nil {
				data.MediaID = ""
				data.Key = ""
				data.FilePath = path
				if raw, err := json.Marshal(data); err == nil {
					m.Data = string(raw)
					if err := r.store.UpdateMessageData(m.ChatID, m.MessageID, m.Data); err != nil {
						return err
					}
				}
			} else {
				logrus.WithFields(logrus.Fields{
					"function":   "persistInbound",
					"chat_id":    m.ChatID,
					"message_id": m.MessageID,
					"error":      err.Error(),
				}).Warn("Media auto-download failed, keeping remote reference")
			}
		}
	}

	err = r.store.UpdateConnectionOnMessage(m.ChatID,
		Preview(contentType, json.RawMessage(m.Data)), m.ContentType,
		storage.ReadStatusNew, true)
	if err != nil {
		return err
	}

	if r.OnMessage != nil {
		r.OnMessage(m)
	}
	if contentType.Surfaceable() && conn.Notify && r.Notify != nil {
		if r.ForegroundChat == nil || r.ForegroundChat() != m.ChatID {
			r.Notify(m.ChatID, Preview(contentType, json.RawMessage(m.Data)))
		}
	}
	return nil
}

func (r *Receiver) downloadAllowed(chatID string, contentType ContentType) bool {
	if r.DownloadAllowed == nil {
		return true
	}
	return r.DownloadAllowed(chatID, contentType)
}

// download fetches and decrypts a blob, writing it under the chat's
// media directory. Returns the local path.
func (r *Receiver) download(ctx context.Context, chatID, messageID string, data *MediaData) (string, error) {
	token, err := r.auth.Token(ctx)
	if err != nil {
		return "", err
	}
	ciphertext, err := r.api.DownloadEncryptedBlob(ctx, token, data.MediaID)
	if err != nil {
		return "", err
	}
	key, err := crypto.KeyFromHex(data.Key)
	if err != nil {
		return "", err
	}
	plain, err := crypto.Decrypt(ciphertext, key)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(r.MediaDir, chatID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	name := messageID
	if data.FileName != "" {
		name = messageID + "_" + filepath.Base(data.FileName)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
