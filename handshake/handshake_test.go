package handshake

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietlink/quietlink/bundle"
	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/message"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

// side is one device: its own store, mock service, and machine.
type side struct {
	store   *storage.Store
	api     *transport.MockAPI
	sender  *message.Sender
	bundles *bundle.Manager
	machine *Machine
}

func newSide(t *testing.T, name string) *side {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveProfile(storage.Profile{
		Name:   name,
		UserID: name,
	}))

	api := transport.NewMockAPI()
	auth := transport.StaticToken("tok-" + name)
	sender := message.NewSender(store, api, auth)
	bundles := bundle.NewManager(store, bundle.NewLinkPool(store, api, auth))
	machine := NewMachine(store, api, auth, bundles, sender)
	return &side{store: store, api: api, sender: sender, bundles: bundles, machine: machine}
}

// unmarshalSent decodes the n-th plaintext envelope posted to a chat.
func unmarshalSent(t *testing.T, api *transport.MockAPI, chatID string, n int) message.Envelope {
	t.Helper()
	wires := api.SentDirect(chatID)
	require.Greater(t, len(wires), n)
	var env message.Envelope
	require.NoError(t, json.Unmarshal([]byte(wires[n]), &env))
	return env
}

// runToB2 walks a fresh pair of sides through B1, A1, and B2, returning
// the chat id and the B2 payload Bob posted, ready for Alice's final
// step.
func runToB2(t *testing.T, alice, bob *side) (string, message.HandshakeB2Data) {
	t.Helper()
	ctx := context.Background()

	b, err := alice.bundles.Generate(ctx, "Bob from work")
	require.NoError(t, err)
	raw, err := b.Serialize()
	require.NoError(t, err)

	// B1: Bob reads the bundle and the service mints a chat id.
	require.NoError(t, bob.machine.ReadBundle(ctx, raw))
	chatID := "chat-0001"
	conn, err := bob.store.GetConnection(chatID)
	require.NoError(t, err)
	assert.False(t, conn.Authenticated)

	// A1: the service notifies Alice that her link produced a chat.
	require.NoError(t, alice.machine.HandleNewChat(ctx, chatID, b.Data.LinkID))
	a1 := unmarshalSent(t, alice.api, chatID, 0)
	require.Equal(t, message.ContentHandshakeA1, a1.ContentType)
	var a1data message.HandshakeA1Data
	require.NoError(t, json.Unmarshal(a1.Data, &a1data))

	// B2: Bob verifies the commitment and answers.
	require.NoError(t, bob.machine.HandleA1(ctx, chatID, a1data))
	b2 := unmarshalSent(t, bob.api, chatID, 0)
	require.Equal(t, message.ContentHandshakeB2, b2.ContentType)
	var b2data message.HandshakeB2Data
	require.NoError(t, json.Unmarshal(b2.Data, &b2data))
	return chatID, b2data
}

func TestDirectHandshakeEndToEnd(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	chatID, b2data := runToB2(t, alice, bob)

	// A2: Alice verifies the nonce proof.
	require.NoError(t, alice.machine.HandleB2(ctx, chatID, b2data))

	aliceConn, err := alice.store.GetConnection(chatID)
	require.NoError(t, err)
	bobConn, err := bob.store.GetConnection(chatID)
	require.NoError(t, err)
	assert.True(t, aliceConn.Authenticated)
	assert.True(t, bobConn.Authenticated)

	// The bundle label is Alice's name for the chat.
	assert.Equal(t, "Bob from work", aliceConn.Name)

	aliceRec, err := alice.store.GetCryptoRecord(aliceConn.CryptoID)
	require.NoError(t, err)
	bobRec, err := bob.store.GetCryptoRecord(bobConn.CryptoID)
	require.NoError(t, err)
	require.NotEmpty(t, aliceRec.SharedSecret)
	assert.Equal(t, aliceRec.SharedSecret, bobRec.SharedSecret)

	// Both sides follow up with their display name, encrypted.
	bobName := bob.api.SentDirect(chatID)[1]
	secret, err := crypto.KeyFromHex(aliceRec.SharedSecret)
	require.NoError(t, err)
	plain, err := crypto.DecryptString(bobName, secret)
	require.NoError(t, err)
	var env message.Envelope
	require.NoError(t, json.Unmarshal([]byte(plain), &env))
	assert.Equal(t, message.ContentName, env.ContentType)

	require.Greater(t, len(alice.api.SentDirect(chatID)), 1)
}

func TestHandshakeRejectsSubstitutedKey(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	b, err := alice.bundles.Generate(ctx, "Bob")
	require.NoError(t, err)
	raw, err := b.Serialize()
	require.NoError(t, err)
	require.NoError(t, bob.machine.ReadBundle(ctx, raw))
	chatID := "chat-0001"

	// A man in the middle substitutes his own key for Alice's.
	mitm, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	err = bob.machine.HandleA1(ctx, chatID, message.HandshakeA1Data{
		PubKey: mitm.PublicHex(),
	})
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// Everything created for the attempt is gone.
	_, err = bob.store.GetConnection(chatID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, bob.api.SentDirect(chatID))
}

func TestHandshakeRejectsBadNonceProof(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	chatID, b2data := runToB2(t, alice, bob)

	// Substitute the responder key: the derived secret no longer
	// decrypts the nonce.
	mitm, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	b2data.PubKey = mitm.PublicHex()

	err = alice.machine.HandleB2(ctx, chatID, b2data)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	_, err = alice.store.GetConnection(chatID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandshakeStepsAreIdempotent(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	chatID, b2data := runToB2(t, alice, bob)

	// A duplicated A1 push must not re-run Bob's transition.
	sentBefore := len(bob.api.SentDirect(chatID))
	a1 := unmarshalSent(t, alice.api, chatID, 0)
	var a1data message.HandshakeA1Data
	require.NoError(t, json.Unmarshal(a1.Data, &a1data))
	require.NoError(t, bob.machine.HandleA1(ctx, chatID, a1data))
	assert.Len(t, bob.api.SentDirect(chatID), sentBefore)

	require.NoError(t, alice.machine.HandleB2(ctx, chatID, b2data))
	sentBefore = len(alice.api.SentDirect(chatID))
	require.NoError(t, alice.machine.HandleB2(ctx, chatID, b2data))
	assert.Len(t, alice.api.SentDirect(chatID), sentBefore)

	// A duplicated new-chat event is a no-op too.
	require.NoError(t, alice.machine.HandleNewChat(ctx, chatID, "link-whatever"))
}

func TestReadBundleFormatErrorIsTerminal(t *testing.T) {
	bob := newSide(t, "Bob")
	err := bob.machine.ReadBundle(context.Background(), `{"org":"example.com"}`)
	require.ErrorIs(t, err, bundle.ErrFormat)

	pending, perr := bob.bundles.PendingReads()
	require.NoError(t, perr)
	assert.Empty(t, pending)
}

func TestReadBundleNetworkFailureQueuesForRetry(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	b, err := alice.bundles.Generate(ctx, "Bob")
	require.NoError(t, err)
	raw, err := b.Serialize()
	require.NoError(t, err)

	bob.api.FailCreateChat = true
	require.NoError(t, bob.machine.ReadBundle(ctx, raw))

	pending, err := bob.bundles.PendingReads()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Next backlog pull retries and succeeds.
	bob.api.FailCreateChat = false
	require.NoError(t, bob.machine.RetryPendingBundles(ctx))

	pending, err = bob.bundles.PendingReads()
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = bob.store.GetConnection("chat-0001")
	assert.NoError(t, err)
}

func TestRetryKeepsPendingBundleWhileOffline(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	b, err := alice.bundles.Generate(ctx, "Bob")
	require.NoError(t, err)
	raw, err := b.Serialize()
	require.NoError(t, err)

	bob.api.FailCreateChat = true
	require.NoError(t, bob.machine.ReadBundle(ctx, raw))

	// A retry while still offline must not consume the queued bundle.
	require.Error(t, bob.machine.RetryPendingBundles(ctx))

	pending, err := bob.bundles.PendingReads()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGroupJoin(t *testing.T) {
	alice := newSide(t, "Alice")
	bob := newSide(t, "Bob")
	ctx := context.Background()

	// Alice, already a member, generates a join bundle for her group.
	gb, err := alice.bundles.GenerateGroup(ctx, "group-1", "Reading club", "Weekly chapter chat")
	require.NoError(t, err)
	raw, err := gb.Serialize()
	require.NoError(t, err)

	bob.api.Members = []string{"alice", "carol"}
	require.NoError(t, bob.machine.ReadBundle(ctx, raw))

	conns, err := bob.store.ListConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	conn := conns[0]
	assert.Equal(t, storage.ConnectionGroup, conn.ConnectionType)
	assert.True(t, conn.Authenticated)
	assert.Equal(t, "Reading club", conn.Name)

	rec, err := bob.store.GetCryptoRecord(conn.CryptoID)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SharedSecret)

	members, err := bob.store.ListGroupMembers(conn.ChatID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Bob announced his name to the group, encrypted under the group key.
	posts := bob.api.GroupSends[conn.ChatID]
	require.Len(t, posts, 1)
	secret, err := crypto.KeyFromHex(rec.SharedSecret)
	require.NoError(t, err)
	plain, err := crypto.DecryptString(posts[0], secret)
	require.NoError(t, err)
	var env message.Envelope
	require.NoError(t, json.Unmarshal([]byte(plain), &env))
	assert.Equal(t, message.ContentName, env.ContentType)
}
