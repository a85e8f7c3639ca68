package transport

import (
	"context"
	"errors"
)

var (
	// ErrNetwork indicates a transient failure talking to the service.
	// Callers queue the affected work for retry.
	ErrNetwork = errors.New("network error")

	// ErrLinkInvalid indicates a link id the service no longer
	// recognizes (consumed or expired server-side). Terminal for that
	// link.
	ErrLinkInvalid = errors.New("link invalid")
)

// RawMessage is one push payload as delivered by the service, either
// live or from a backlog pull. Exactly one set of fields is populated
// depending on the event.
type RawMessage struct {
	// ChatID identifies the direct chat, when set.
	ChatID string `json:"chatId,omitempty"`
	// GroupID identifies the group chat, when set.
	GroupID string `json:"groupId,omitempty"`
	// MemberID identifies the sending group member, when set.
	MemberID string `json:"memberId,omitempty"`
	// LinkID is set on new-chat events: a peer consumed this link to
	// create ChatID.
	LinkID string `json:"linkId,omitempty"`
	// Ciphertext is the encrypted message envelope, when set.
	Ciphertext string `json:"ciphertext,omitempty"`
	// Deletion is set when the peer disconnected the chat.
	Deletion bool `json:"deletion,omitempty"`
	// SentTime is the server receive time, ISO8601.
	SentTime string `json:"sentTime,omitempty"`
}

// GroupJoin is the service's response to joining a group via a link.
// GroupKey is the group's symmetric key, distributed to members by the
// service; group-chat trust is anchored in membership, not pairwise
// crypto.
type GroupJoin struct {
	GroupID  string   `json:"groupId"`
	GroupKey string   `json:"groupKey"`
	Members  []string `json:"members"`
}

// BlobRef is the handle to an uploaded encrypted blob: the id under
// which the service stores it and the symmetric key that encrypted it.
// The key is generated client-side and never seen by the service in
// usable form.
type BlobRef struct {
	MediaID string `json:"mediaId"`
	Key     string `json:"key"`
}

// API is the allocation/messaging surface of the service. All methods
// return ErrNetwork (possibly wrapped) on transient failure.
type API interface {
	// AllocateDirectLinks requests a batch of single-use direct
	// connection links.
	AllocateDirectLinks(ctx context.Context, token string) ([]string, error)
	// AllocateGroupLinks requests a batch of single-use join links for
	// a group this device belongs to.
	AllocateGroupLinks(ctx context.Context, token, groupID string) ([]string, error)
	// CreateChatFromLink consumes a peer's link and returns the new
	// chat id.
	CreateChatFromLink(ctx context.Context, token, linkID string) (string, error)
	// JoinGroupFromLink consumes a group link and returns the group id
	// and current member list.
	JoinGroupFromLink(ctx context.Context, token, linkID string) (*GroupJoin, error)
	// PostDirectMessage posts ciphertext to a direct chat.
	PostDirectMessage(ctx context.Context, token, chatID, ciphertext string) error
	// PostGroupMessage posts ciphertext to a group chat.
	PostGroupMessage(ctx context.Context, token, groupID, ciphertext string) error
	// PullBacklog returns messages delivered while the device was
	// offline.
	PullBacklog(ctx context.Context, token string) ([]RawMessage, error)
	// UploadEncryptedBlob stores an already-encrypted payload and
	// returns its handle.
	UploadEncryptedBlob(ctx context.Context, token string, ciphertext []byte) (*BlobRef, error)
	// DownloadEncryptedBlob fetches a stored payload by media id.
	DownloadEncryptedBlob(ctx context.Context, token, mediaID string) ([]byte, error)
}

// Authenticator produces the opaque short-lived credential sent with
// every server-facing call.
type Authenticator interface {
	// Token returns a valid token, refreshing it if the cached one has
	// timed out.
	Token(ctx context.Context) (string, error)
}
