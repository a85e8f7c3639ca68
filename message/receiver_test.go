package message

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

// stubHandshake records delegated handshake events.
type stubHandshake struct {
	newChats []string
	a1       []HandshakeA1Data
	b2       []HandshakeB2Data
}

func (s *stubHandshake) HandleNewChat(ctx context.Context, chatID, linkID string) error {
	s.newChats = append(s.newChats, chatID+"/"+linkID)
	return nil
}

func (s *stubHandshake) HandleA1(ctx context.Context, chatID string, data HandshakeA1Data) error {
	s.a1 = append(s.a1, data)
	return nil
}

func (s *stubHandshake) HandleB2(ctx context.Context, chatID string, data HandshakeB2Data) error {
	s.b2 = append(s.b2, data)
	return nil
}

func testReceiver(t *testing.T) (*Receiver, *storage.Store, *transport.MockAPI, *stubHandshake) {
	t.Helper()
	store := testStore(t)
	api := transport.NewMockAPI()
	hs := &stubHandshake{}
	r := NewReceiver(store, api, transport.StaticToken("tok"), hs, t.TempDir())
	return r, store, api, hs
}

func encryptEnvelope(t *testing.T, key [crypto.KeySize]byte, messageID string, contentType ContentType, data any) string {
	t.Helper()
	env, err := NewEnvelope(messageID, contentType, data, "")
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	wire, err := crypto.EncryptString(string(raw), key)
	require.NoError(t, err)
	return wire
}

func TestReceiveTextIsIdempotent(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")

	raw := transport.RawMessage{
		ChatID:     "chat-1",
		Ciphertext: encryptEnvelope(t, key, "m1", ContentText, TextData{Text: "hi"}),
	}
	require.NoError(t, r.Receive(context.Background(), raw))
	require.NoError(t, r.Receive(context.Background(), raw))

	n, err := store.CountMessages("chat-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	conn, err := store.GetConnection("chat-1")
	require.NoError(t, err)
	assert.Equal(t, uint(1), conn.NewMessageCount)
	assert.Equal(t, "hi", conn.PreviewText)
	assert.Equal(t, storage.ReadStatusNew, conn.ReadStatus)
}

func TestReceiveNotificationGating(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")

	var notified []string
	r.Notify = func(chatID, preview string) {
		notified = append(notified, chatID+": "+preview)
	}

	send := func(id, text string) {
		require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
			ChatID:     "chat-1",
			Ciphertext: encryptEnvelope(t, key, id, ContentText, TextData{Text: text}),
		}))
	}

	send("m1", "first")
	require.Len(t, notified, 1)
	assert.Equal(t, "chat-1: first", notified[0])

	// Foregrounded chat suppresses the notification.
	r.ForegroundChat = func() string { return "chat-1" }
	send("m2", "second")
	assert.Len(t, notified, 1)

	// Per-connection permission off suppresses it too.
	r.ForegroundChat = nil
	require.NoError(t, store.SetConnectionNotify("chat-1", false))
	send("m3", "third")
	assert.Len(t, notified, 1)
}

func TestReceiveRoutesHandshakeOnUnauthenticatedChat(t *testing.T) {
	r, store, _, hs := testReceiver(t)
	require.NoError(t, store.SaveCryptoRecord(storage.CryptoRecord{CryptoID: "c1"}))
	require.NoError(t, store.AddConnection(storage.Connection{
		ChatID:         "chat-1",
		ConnectionType: storage.ConnectionDirect,
		ReadStatus:     storage.ReadStatusNew,
		CryptoID:       "c1",
	}))

	env, err := NewEnvelope("m1", ContentHandshakeA1, HandshakeA1Data{PubKey: "aa"}, "")
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID:     "chat-1",
		Ciphertext: string(raw),
	}))
	require.Len(t, hs.a1, 1)
	assert.Equal(t, "aa", hs.a1[0].PubKey)

	// Handshake control messages never land in the feed.
	n, err := store.CountMessages("chat-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReceiveNewChatEventDelegates(t *testing.T) {
	r, _, _, hs := testReceiver(t)
	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID: "chat-9",
		LinkID: "link-9",
	}))
	require.Len(t, hs.newChats, 1)
	assert.Equal(t, "chat-9/link-9", hs.newChats[0])
}

func TestReceiveDeletionMarksDisconnected(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	newAuthedChat(t, store, "chat-1")

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID:   "chat-1",
		Deletion: true,
	}))
	conn, err := store.GetConnection("chat-1")
	require.NoError(t, err)
	assert.True(t, conn.Disconnected)
}

func TestReceiveNameAppliedOnlyWhenUnnamed(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID:     "chat-1",
		Ciphertext: encryptEnvelope(t, key, "m1", ContentName, NameData{Name: "Alice"}),
	}))
	conn, err := store.GetConnection("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", conn.Name)

	// A later announcement does not overwrite it.
	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID:     "chat-1",
		Ciphertext: encryptEnvelope(t, key, "m2", ContentName, NameData{Name: "Mallory"}),
	}))
	conn, err = store.GetConnection("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", conn.Name)
}

func TestReceiveMediaAutoDownload(t *testing.T) {
	r, store, api, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")

	// Stage an encrypted blob the way a sending peer would.
	blobKeyHex, err := crypto.GenerateNonceHex()
	require.NoError(t, err)
	blobKey, err := crypto.KeyFromHex(blobKeyHex)
	require.NoError(t, err)
	payload := []byte("jpeg bytes")
	ciphertext, err := crypto.Encrypt(payload, blobKey)
	require.NoError(t, err)
	ref, err := api.UploadEncryptedBlob(context.Background(), "tok", ciphertext)
	require.NoError(t, err)

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID: "chat-1",
		Ciphertext: encryptEnvelope(t, key, "m1", ContentImage, MediaData{
			MediaID:  ref.MediaID,
			Key:      blobKeyHex,
			FileName: "photo.jpg",
		}),
	}))

	m, err := store.GetMessage("chat-1", "m1")
	require.NoError(t, err)
	var data MediaData
	require.NoError(t, json.Unmarshal([]byte(m.Data), &data))
	assert.Empty(t, data.MediaID)
	assert.Empty(t, data.Key)
	require.NotEmpty(t, data.FilePath)

	saved, err := os.ReadFile(data.FilePath)
	require.NoError(t, err)
	assert.Equal(t, payload, saved)
}

func TestReceiveMediaDownloadGated(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")
	r.DownloadAllowed = func(chatID string, contentType ContentType) bool { return false }

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		ChatID: "chat-1",
		Ciphertext: encryptEnvelope(t, key, "m1", ContentImage, MediaData{
			MediaID:  "media-7",
			Key:      "unused",
			FileName: "photo.jpg",
		}),
	}))

	m, err := store.GetMessage("chat-1", "m1")
	require.NoError(t, err)
	var data MediaData
	require.NoError(t, json.Unmarshal([]byte(m.Data), &data))
	assert.Equal(t, "media-7", data.MediaID)
	assert.Empty(t, data.FilePath)
}

func TestReceiveGroupMessageCreatesMemberLazily(t *testing.T) {
	r, store, _, _ := testReceiver(t)

	keyHex, err := crypto.GenerateNonceHex()
	require.NoError(t, err)
	key, err := crypto.KeyFromHex(keyHex)
	require.NoError(t, err)
	require.NoError(t, store.SaveCryptoRecord(storage.CryptoRecord{
		CryptoID:     "g1-crypto",
		SharedSecret: keyHex,
	}))
	require.NoError(t, store.AddConnection(storage.Connection{
		ChatID:         "group-1",
		ConnectionType: storage.ConnectionGroup,
		Authenticated:  true,
		ReadStatus:     storage.ReadStatusRead,
		CryptoID:       "g1-crypto",
	}))

	require.NoError(t, r.Receive(context.Background(), transport.RawMessage{
		GroupID:    "group-1",
		MemberID:   "member-7",
		Ciphertext: encryptEnvelope(t, key, "member-7-m1", ContentText, TextData{Text: "hello group"}),
	}))

	member, err := store.GetGroupMember("group-1", "member-7")
	require.NoError(t, err)
	assert.NotEmpty(t, member.CryptoID)

	m, err := store.GetMessage("group-1", "member-7-m1")
	require.NoError(t, err)
	assert.Equal(t, "member-7", m.MemberID)
}

func TestReceiveTamperedCiphertextFailsClosed(t *testing.T) {
	r, store, _, _ := testReceiver(t)
	key := newAuthedChat(t, store, "chat-1")

	wire := encryptEnvelope(t, key, "m1", ContentText, TextData{Text: "hi"})
	err := r.Receive(context.Background(), transport.RawMessage{
		ChatID:     "chat-1",
		Ciphertext: "AAAA" + wire[4:],
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)

	n, err := store.CountMessages("chat-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}
