package handshake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/bundle"
	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/message"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

// ErrAuthenticationFailed indicates a hash or nonce commitment did not
// verify. All state for the attempt is torn down; the same bundle is
// never retried.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Sender transmits protocol messages. Implemented by message.Sender.
type Sender interface {
	Send(ctx context.Context, chatID string, out message.Outgoing, journalOnFailure, isGroup bool) (*storage.Message, error)
}

// Machine runs the handshake transitions. Each transition checks the
// connection's authenticated flag first so a duplicated push cannot
// repeat side effects.
type Machine struct {
	store   *storage.Store
	api     transport.API
	auth    transport.Authenticator
	bundles *bundle.Manager
	sender  Sender

	// OnAuthenticated is invoked once a chat reaches the authenticated
	// state, direct or group. Optional.
	OnAuthenticated func(chatID string)
	// OnNewChat is invoked when a peer consumes one of our bundles and
	// an unauthenticated connection is created. Optional.
	OnNewChat func(chatID string)
}

// NewMachine wires the state machine.
func NewMachine(store *storage.Store, api transport.API, auth transport.Authenticator, bundles *bundle.Manager, sender Sender) *Machine {
	return &Machine{store: store, api: api, auth: auth, bundles: bundles, sender: sender}
}

// ReadBundle ingests a peer's out-of-band bundle: the responder's entry
// point for direct chats and the joiner's for groups. Format errors are
// terminal and returned synchronously; a network failure persists the
// bundle for retry and returns nil.
func (m *Machine) ReadBundle(ctx context.Context, raw string) error {
	b, err := bundle.Parse(raw)
	if err != nil {
		return err
	}
	switch b.ConnectionType {
	case bundle.TypeDirect, bundle.TypeSuperport:
		return m.readDirect(ctx, b)
	case bundle.TypeGroup:
		return m.joinGroup(ctx, b)
	}
	return fmt.Errorf("%w: connection type %q", bundle.ErrFormat, b.ConnectionType)
}

// readDirect is the responder's first step: consume the link to obtain
// a chat id, then seed an unauthenticated connection with the bundle's
// commitments. The peer's public key is not known yet, only its hash.
// A network failure persists the bundle for retry and returns nil.
func (m *Machine) readDirect(ctx context.Context, b *bundle.Bundle) error {
	err := m.createDirect(ctx, b)
	if err != nil && !errors.Is(err, transport.ErrLinkInvalid) {
		return m.queueRead(b, err)
	}
	return err
}

func (m *Machine) createDirect(ctx context.Context, b *bundle.Bundle) error {
	token, err := m.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token: %v", transport.ErrNetwork, err)
	}
	chatID, err := m.api.CreateChatFromLink(ctx, token, b.Data.LinkID)
	if err != nil {
		return err
	}

	cryptoID := newID()
	if err := m.store.SaveCryptoRecord(storage.CryptoRecord{
		CryptoID:          cryptoID,
		PeerPublicKeyHash: b.Data.PubkeyHash,
		Nonce:             b.Data.Nonce,
	}); err != nil {
		return err
	}
	if err := m.store.AddConnection(storage.Connection{
		ChatID:         chatID,
		ConnectionType: storage.ConnectionDirect,
		Name:           b.Data.Name,
		ReadStatus:     storage.ReadStatusNew,
		CryptoID:       cryptoID,
	}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "createDirect",
		"chat_id":  chatID,
		"link_id":  b.Data.LinkID,
	}).Info("Chat created from bundle, awaiting peer key")
	return nil
}

// queueRead persists a read bundle whose chat creation failed so the
// next backlog pull can retry it.
func (m *Machine) queueRead(b *bundle.Bundle, cause error) error {
	if err := m.bundles.SavePendingRead(b); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "queueRead",
		"link_id":  b.Data.LinkID,
		"error":    cause.Error(),
	}).Info("Bundle read queued for retry")
	return nil
}

// RetryPendingBundles re-runs the responder's first step for every
// stored read bundle. Called on backlog pull. A still-failing entry
// stays queued and stops the sweep; a dead link is dropped.
func (m *Machine) RetryPendingBundles(ctx context.Context) error {
	pending, err := m.bundles.PendingReads()
	if err != nil {
		return err
	}
	for _, b := range pending {
		create := m.createDirect
		if b.ConnectionType == bundle.TypeGroup {
			create = m.createGroup
		}
		if err := create(ctx, b); err != nil {
			if errors.Is(err, transport.ErrLinkInvalid) {
				// The link died server-side; nothing left to retry.
				if err := m.bundles.DeletePendingRead(b.Data.LinkID); err != nil {
					return err
				}
				continue
			}
			return err
		}
		if err := m.bundles.DeletePendingRead(b.Data.LinkID); err != nil {
			return err
		}
	}
	return nil
}

// HandleNewChat is the initiator's step: a peer consumed our link, a
// chat id now exists. Consume the generated bundle, seed the local
// connection, and disclose our public key.
func (m *Machine) HandleNewChat(ctx context.Context, chatID, linkID string) error {
	if _, err := m.store.GetConnection(chatID); err == nil {
		// Duplicate new-chat event; the first one already ran.
		return nil
	}

	gb, err := m.bundles.ConsumeGenerated(linkID)
	if errors.Is(err, storage.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function": "HandleNewChat",
			"link_id":  linkID,
		}).Warn("New chat for unknown or expired bundle ignored")
		return nil
	}
	if err != nil {
		return err
	}

	cryptoID := newID()
	if err := m.store.SaveCryptoRecord(storage.CryptoRecord{
		CryptoID:   cryptoID,
		PrivateKey: gb.PrivateKey,
		PublicKey:  gb.PublicKey,
		Nonce:      gb.Nonce,
	}); err != nil {
		return err
	}
	if err := m.store.AddConnection(storage.Connection{
		ChatID:         chatID,
		ConnectionType: storage.ConnectionDirect,
		Name:           gb.Label,
		ReadStatus:     storage.ReadStatusNew,
		CryptoID:       cryptoID,
	}); err != nil {
		return err
	}
	if m.OnNewChat != nil {
		m.OnNewChat(chatID)
	}

	_, err = m.sender.Send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentHandshakeA1,
		Data:        message.HandshakeA1Data{PubKey: gb.PublicKey},
	}, true, false)
	return err
}

// HandleA1 is the responder's second step: verify the disclosed key
// against the bundle's hash commitment, derive the secret, and answer
// with our own key plus the encrypted nonce.
func (m *Machine) HandleA1(ctx context.Context, chatID string, data message.HandshakeA1Data) error {
	conn, err := m.store.GetConnection(chatID)
	if err != nil {
		return err
	}
	if conn.Authenticated {
		return nil
	}
	rec, err := m.store.GetCryptoRecord(conn.CryptoID)
	if err != nil {
		return err
	}

	if crypto.HashHex(data.PubKey) != rec.PeerPublicKeyHash {
		return m.tearDown(chatID, "public key does not match bundle commitment")
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	peerPub, err := crypto.KeyFromHex(data.PubKey)
	if err != nil {
		return m.tearDown(chatID, "undecodable peer public key")
	}
	secret, err := crypto.DeriveSharedSecret(keys.Private, peerPub)
	if err != nil {
		return err
	}

	rec.PrivateKey = keys.PrivateHex()
	rec.PublicKey = keys.PublicHex()
	rec.PeerPublicKey = data.PubKey
	rec.SharedSecret = crypto.KeyToHex(secret)
	if err := m.store.SaveCryptoRecord(*rec); err != nil {
		return err
	}
	if err := m.store.SetConnectionAuthenticated(chatID, true); err != nil {
		return err
	}

	encryptedNonce, err := crypto.EncryptString(rec.Nonce, secret)
	if err != nil {
		return err
	}
	_, err = m.sender.Send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentHandshakeB2,
		Data: message.HandshakeB2Data{
			PubKey:         rec.PublicKey,
			EncryptedNonce: encryptedNonce,
		},
	}, true, false)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "HandleA1",
		"chat_id":  chatID,
	}).Info("Chat authenticated")
	if m.OnAuthenticated != nil {
		m.OnAuthenticated(chatID)
	}
	return m.sendIdentity(ctx, chatID)
}

// HandleB2 is the initiator's final step: derive the secret from the
// responder's key and verify the responder could encrypt our nonce
// under it. Equality proves the responder holds the private key behind
// the hash we committed to in the bundle.
func (m *Machine) HandleB2(ctx context.Context, chatID string, data message.HandshakeB2Data) error {
	conn, err := m.store.GetConnection(chatID)
	if err != nil {
		return err
	}
	if conn.Authenticated {
		return nil
	}
	rec, err := m.store.GetCryptoRecord(conn.CryptoID)
	if err != nil {
		return err
	}

	priv, err := crypto.KeyFromHex(rec.PrivateKey)
	if err != nil {
		return err
	}
	peerPub, err := crypto.KeyFromHex(data.PubKey)
	if err != nil {
		return m.tearDown(chatID, "undecodable peer public key")
	}
	secret, err := crypto.DeriveSharedSecret(priv, peerPub)
	if err != nil {
		return err
	}

	nonce, err := crypto.DecryptString(data.EncryptedNonce, secret)
	if err != nil || nonce != rec.Nonce {
		return m.tearDown(chatID, "nonce proof failed")
	}

	rec.PeerPublicKey = data.PubKey
	rec.SharedSecret = crypto.KeyToHex(secret)
	if err := m.store.SaveCryptoRecord(*rec); err != nil {
		return err
	}
	if err := m.store.SetConnectionAuthenticated(chatID, true); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "HandleB2",
		"chat_id":  chatID,
	}).Info("Chat authenticated")
	if m.OnAuthenticated != nil {
		m.OnAuthenticated(chatID)
	}
	return m.sendIdentity(ctx, chatID)
}

// joinGroup is the single-step group protocol: consume the join link,
// store the server-distributed group key, and announce our name to the
// existing members. Trust is anchored in membership, not pairwise
// crypto, so the connection authenticates immediately. A network
// failure persists the bundle for retry and returns nil.
func (m *Machine) joinGroup(ctx context.Context, b *bundle.Bundle) error {
	err := m.createGroup(ctx, b)
	if err != nil && !errors.Is(err, transport.ErrLinkInvalid) {
		return m.queueRead(b, err)
	}
	return err
}

func (m *Machine) createGroup(ctx context.Context, b *bundle.Bundle) error {
	token, err := m.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token: %v", transport.ErrNetwork, err)
	}
	join, err := m.api.JoinGroupFromLink(ctx, token, b.Data.LinkID)
	if err != nil {
		return err
	}

	cryptoID := newID()
	if err := m.store.SaveCryptoRecord(storage.CryptoRecord{
		CryptoID:     cryptoID,
		SharedSecret: join.GroupKey,
	}); err != nil {
		return err
	}
	if err := m.store.AddConnection(storage.Connection{
		ChatID:         join.GroupID,
		ConnectionType: storage.ConnectionGroup,
		Name:           b.Data.Name,
		Authenticated:  true,
		ReadStatus:     storage.ReadStatusNew,
		CryptoID:       cryptoID,
	}); err != nil {
		return err
	}
	for _, member := range join.Members {
		if err := m.store.AddGroupMember(storage.GroupMember{
			ChatID:   join.GroupID,
			MemberID: member,
		}); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "joinGroup",
		"group_id": join.GroupID,
		"members":  len(join.Members),
		"link_id":  b.Data.LinkID,
	}).Info("Joined group")
	if m.OnAuthenticated != nil {
		m.OnAuthenticated(join.GroupID)
	}
	return m.broadcastName(ctx, join.GroupID)
}

// sendIdentity announces our display name after authentication. The
// peer applies it only if the connection has no name yet.
func (m *Machine) sendIdentity(ctx context.Context, chatID string) error {
	p, err := m.store.GetProfile()
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.Name == "") {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = m.sender.Send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentName,
		Data:        message.NameData{Name: p.Name},
	}, true, false)
	if err != nil {
		return err
	}
	if p.AvatarPath != "" {
		_, err = m.sender.Send(ctx, chatID, message.Outgoing{
			ContentType: message.ContentDisplayImage,
			Data:        message.MediaData{FileName: "display.jpg"},
			LocalPath:   p.AvatarPath,
		}, false, false)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "sendIdentity",
				"chat_id":  chatID,
				"error":    err.Error(),
			}).Warn("Display picture send failed")
		}
	}
	return nil
}

func (m *Machine) broadcastName(ctx context.Context, groupID string) error {
	p, err := m.store.GetProfile()
	if errors.Is(err, storage.ErrNotFound) || (err == nil && p.Name == "") {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = m.sender.Send(ctx, groupID, message.Outgoing{
		ContentType: message.ContentName,
		Data:        message.NameData{Name: p.Name},
	}, true, true)
	return err
}

// tearDown deletes everything created for a failed attempt and reports
// the authentication failure. The bundle behind it is spent either way.
func (m *Machine) tearDown(chatID, reason string) error {
	logrus.WithFields(logrus.Fields{
		"function": "tearDown",
		"chat_id":  chatID,
		"reason":   reason,
	}).Warn("Handshake failed, deleting connection")
	if err := m.store.DeleteConnection(chatID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAuthenticationFailed, reason)
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
