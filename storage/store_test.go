package storage

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	// Open already migrated; a second run must be a no-op.
	require.NoError(t, s.Migrate())
}

func TestConnectionLifecycle(t *testing.T) {
	s := testStore(t)

	conn := Connection{
		ChatID:         "chat1",
		ConnectionType: ConnectionDirect,
		ReadStatus:     ReadStatusNew,
		CryptoID:       "crypto1",
	}
	require.NoError(t, s.AddConnection(conn))

	got, err := s.GetConnection("chat1")
	require.NoError(t, err)
	assert.False(t, got.Authenticated)
	assert.Equal(t, ConnectionDirect, got.ConnectionType)

	// Duplicate insert is a no-op, not an error.
	dup := conn
	dup.Name = "should not overwrite"
	require.NoError(t, s.AddConnection(dup))
	got, err = s.GetConnection("chat1")
	require.NoError(t, err)
	assert.Equal(t, "", got.Name)

	require.NoError(t, s.SetConnectionAuthenticated("chat1", true))
	require.NoError(t, s.UpdateConnectionOnMessage("chat1", "hello", "text", ReadStatusNew, true))
	require.NoError(t, s.UpdateConnectionOnMessage("chat1", "again", "text", ReadStatusNew, true))

	got, err = s.GetConnection("chat1")
	require.NoError(t, err)
	assert.True(t, got.Authenticated)
	assert.Equal(t, uint(2), got.NewMessageCount)
	assert.Equal(t, "again", got.PreviewText)

	require.NoError(t, s.MarkConnectionRead("chat1"))
	got, err = s.GetConnection("chat1")
	require.NoError(t, err)
	assert.Equal(t, uint(0), got.NewMessageCount)
	assert.Equal(t, ReadStatusRead, got.ReadStatus)
}

func TestDeleteConnectionPurgesResiduals(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.AddConnection(Connection{
		ChatID: "chat1", ConnectionType: ConnectionDirect,
		ReadStatus: ReadStatusNew, CryptoID: "crypto1",
	}))
	require.NoError(t, s.SaveCryptoRecord(CryptoRecord{CryptoID: "crypto1", Nonce: "abc"}))
	_, err := s.SaveMessage(Message{ChatID: "chat1", MessageID: "m1", ContentType: "text", SendStatus: SendStatusSent})
	require.NoError(t, err)
	require.NoError(t, s.AppendJournal(JournalEntry{ChatID: "chat1", MessageID: "m2", ContentType: "text"}))

	require.NoError(t, s.DeleteConnection("chat1"))

	_, err = s.GetConnection("chat1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCryptoRecord("crypto1")
	assert.ErrorIs(t, err, ErrNotFound)
	n, err := s.CountMessages("chat1")
	require.NoError(t, err)
	assert.Zero(t, n)
	jn, err := s.JournalLength()
	require.NoError(t, err)
	assert.Zero(t, jn)
}

func TestSaveMessageIdempotent(t *testing.T) {
	s := testStore(t)

	m := Message{ChatID: "chat1", MessageID: "m1", ContentType: "text", Data: `{"text":"hi"}`}
	inserted, err := s.SaveMessage(m)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.SaveMessage(m)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate save should be a no-op")

	n, err := s.CountMessages("chat1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJournalFIFO(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.AppendJournal(JournalEntry{ChatID: "chat1", MessageID: id, ContentType: "text"}))
	}

	entries, err := s.JournalEntries()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "m1", entries[0].MessageID)
	assert.Equal(t, "m3", entries[2].MessageID)

	require.NoError(t, s.RemoveJournalEntry(entries[0].Seq))
	entries, err = s.JournalEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m2", entries[0].MessageID)
}

func TestLinkPoolPopUnderContention(t *testing.T) {
	s := testStore(t)

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = string(rune('a'+i)) + "-link"
	}
	require.NoError(t, s.AddLinks(ids, "direct", ""))

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var linkID string
			err := s.WithLock(func() error {
				var popErr error
				linkID, popErr = s.PopLink("direct")
				return popErr
			})
			if err != nil {
				return
			}
			mu.Lock()
			seen[linkID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20, "every link should be handed out")
	for id, count := range seen {
		assert.Equal(t, 1, count, "link %s handed out more than once", id)
	}

	_, err := s.PopLink("direct")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGeneratedBundleConsume(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveGeneratedBundle(GeneratedBundle{
		LinkID: "link1", ConnectionType: ConnectionDirect, Label: "work laptop",
		Nonce: "n", PublicKey: "p", PrivateKey: "k", PublicKeyHash: "h",
	}))

	b, err := s.GetGeneratedBundle("link1")
	require.NoError(t, err)
	assert.Equal(t, "work laptop", b.Label)

	require.NoError(t, s.DeleteGeneratedBundle("link1"))
	_, err = s.GetGeneratedBundle("link1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileAndToken(t *testing.T) {
	s := testStore(t)

	_, err := s.GetProfile()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveProfile(Profile{Name: "mira", UserID: "u1", SharedSecret: "sec"}))
	p, err := s.GetProfile()
	require.NoError(t, err)
	assert.Equal(t, "mira", p.Name)

	_, _, err = s.GetToken()
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveToken("tok", ""))
	tok, ts, err := s.GetToken()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.NotEmpty(t, ts)
}

func TestGroupMembers(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.AddGroupMember(GroupMember{ChatID: "g1", MemberID: "alice", Name: "Alice"}))
	// Lazy crypto id fill: an update without one keeps the old value.
	require.NoError(t, s.AddGroupMember(GroupMember{ChatID: "g1", MemberID: "alice", Name: "Alice", CryptoID: "c1"}))
	require.NoError(t, s.AddGroupMember(GroupMember{ChatID: "g1", MemberID: "alice", Name: "Alice A."}))

	m, err := s.GetGroupMember("g1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c1", m.CryptoID)
	assert.Equal(t, "Alice A.", m.Name)

	members, err := s.ListGroupMembers("g1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
