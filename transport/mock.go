package transport

import (
	"context"
	"fmt"
	"sync"
)

// MockAPI implements API and ChallengeAPI in memory for testing. Sends
// are recorded, link/chat ids are minted from counters, and every method
// can be failed by setting the corresponding error field.
type MockAPI struct {
	mu sync.Mutex

	// DirectSends and GroupSends record posted ciphertexts keyed by
	// chat/group id, in post order.
	DirectSends map[string][]string
	GroupSends  map[string][]string
	// Uploaded holds blobs by minted media id.
	Uploaded map[string][]byte
	// Backlog is returned (and cleared) by PullBacklog.
	Backlog []RawMessage

	// FailSends makes message posts fail with ErrNetwork.
	FailSends bool
	// FailAllocate makes link allocation fail with ErrNetwork.
	FailAllocate bool
	// FailCreateChat makes chat creation fail with ErrNetwork.
	FailCreateChat bool
	// FailUpload makes blob upload fail with ErrNetwork.
	FailUpload bool

	// Members is returned from JoinGroupFromLink.
	Members []string

	linkCounter  int
	chatCounter  int
	mediaCounter int
}

// NewMockAPI creates an empty in-memory API double.
func NewMockAPI() *MockAPI {
	return &MockAPI{
		DirectSends: make(map[string][]string),
		GroupSends:  make(map[string][]string),
		Uploaded:    make(map[string][]byte),
	}
}

var (
	_ API          = (*MockAPI)(nil)
	_ ChallengeAPI = (*MockAPI)(nil)
)

func (m *MockAPI) AllocateDirectLinks(ctx context.Context, token string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAllocate {
		return nil, fmt.Errorf("%w: allocate links", ErrNetwork)
	}
	links := make([]string, 10)
	for i := range links {
		m.linkCounter++
		links[i] = fmt.Sprintf("link-%04d", m.linkCounter)
	}
	return links, nil
}

func (m *MockAPI) AllocateGroupLinks(ctx context.Context, token, groupID string) ([]string, error) {
	return m.AllocateDirectLinks(ctx, token)
}

func (m *MockAPI) CreateChatFromLink(ctx context.Context, token, linkID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateChat {
		return "", fmt.Errorf("%w: create chat", ErrNetwork)
	}
	m.chatCounter++
	return fmt.Sprintf("chat-%04d", m.chatCounter), nil
}

func (m *MockAPI) JoinGroupFromLink(ctx context.Context, token, linkID string) (*GroupJoin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreateChat {
		return nil, fmt.Errorf("%w: join group", ErrNetwork)
	}
	m.chatCounter++
	return &GroupJoin{
		GroupID:  fmt.Sprintf("group-%04d", m.chatCounter),
		GroupKey: "86f7e437faa5a7fce15d1ddcb9eaeaea377667b8a427ec4f0b7dca6d4a6c2b1e",
		Members:  m.Members,
	}, nil
}

func (m *MockAPI) PostDirectMessage(ctx context.Context, token, chatID, ciphertext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return fmt.Errorf("%w: post direct", ErrNetwork)
	}
	m.DirectSends[chatID] = append(m.DirectSends[chatID], ciphertext)
	return nil
}

func (m *MockAPI) PostGroupMessage(ctx context.Context, token, groupID, ciphertext string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return fmt.Errorf("%w: post group", ErrNetwork)
	}
	m.GroupSends[groupID] = append(m.GroupSends[groupID], ciphertext)
	return nil
}

func (m *MockAPI) PullBacklog(ctx context.Context, token string) ([]RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	backlog := m.Backlog
	m.Backlog = nil
	return backlog, nil
}

func (m *MockAPI) UploadEncryptedBlob(ctx context.Context, token string, ciphertext []byte) (*BlobRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpload {
		return nil, fmt.Errorf("%w: upload blob", ErrNetwork)
	}
	m.mediaCounter++
	mediaID := fmt.Sprintf("media-%04d", m.mediaCounter)
	stored := make([]byte, len(ciphertext))
	copy(stored, ciphertext)
	m.Uploaded[mediaID] = stored
	return &BlobRef{MediaID: mediaID, Key: ""}, nil
}

func (m *MockAPI) DownloadEncryptedBlob(ctx context.Context, token, mediaID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.Uploaded[mediaID]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", ErrLinkInvalid, mediaID)
	}
	return blob, nil
}

func (m *MockAPI) GetChallenge(ctx context.Context, userID string) (string, error) {
	return "challenge-" + userID, nil
}

func (m *MockAPI) PostChallenge(ctx context.Context, userID, encryptedChallenge string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mediaCounter++
	return fmt.Sprintf("token-%04d", m.mediaCounter), nil
}

// QueueBacklog appends messages returned by the next PullBacklog call.
func (m *MockAPI) QueueBacklog(messages ...RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Backlog = append(m.Backlog, messages...)
}

// StaticToken is an Authenticator that always returns itself. Useful
// for tests that exercise components above the auth layer.
type StaticToken string

// Token implements Authenticator.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// SentDirect returns ciphertexts posted to a chat, in order.
func (m *MockAPI) SentDirect(chatID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.DirectSends[chatID]))
	copy(out, m.DirectSends[chatID])
	return out
}
