package storage

import "errors"

// ErrNotFound indicates a row that does not exist, was already consumed,
// or has expired.
var ErrNotFound = errors.New("not found")

// ConnectionType discriminates pairwise chats from group chats.
type ConnectionType string

const (
	ConnectionDirect    ConnectionType = "direct"
	ConnectionGroup     ConnectionType = "group"
	ConnectionSuperport ConnectionType = "superport"
)

// ReadStatus is the feed-level state of a connection's most recent
// activity.
type ReadStatus string

const (
	ReadStatusNew       ReadStatus = "new"
	ReadStatusRead      ReadStatus = "read"
	ReadStatusSent      ReadStatus = "sent"
	ReadStatusJournaled ReadStatus = "journaled"
)

// SendStatus is the per-message delivery state.
type SendStatus string

const (
	SendStatusUnassigned SendStatus = "unassigned"
	SendStatusSent       SendStatus = "sent"
	SendStatusDelivered  SendStatus = "delivered"
	SendStatusRead       SendStatus = "read"
	SendStatusFailed     SendStatus = "failed"
	SendStatusJournaled  SendStatus = "journaled"
)

// Connection is one chat in the feed, direct or group. Created
// unauthenticated on the first handshake step and mutated on every
// inbound/outbound message.
type Connection struct {
	ChatID            string
	ConnectionType    ConnectionType
	Name              string
	Authenticated     bool
	Disconnected      bool
	ReadStatus        ReadStatus
	RecentMessageType string
	PreviewText       string
	NewMessageCount   uint
	DisplayPicPath    string
	CryptoID          string
	Notify            bool
	Timestamp         string
}

// CryptoRecord holds the key material for one connection or group
// member. SharedSecret is set only once the corresponding connection is
// authenticated; PrivateKey never leaves the device.
type CryptoRecord struct {
	CryptoID          string
	PrivateKey        string
	PublicKey         string
	PeerPublicKey     string
	PeerPublicKeyHash string
	SharedSecret      string
	Nonce             string
}

// Message is one persisted message. (ChatID, MessageID) is unique; the
// receive path relies on that for de-duplication.
type Message struct {
	ChatID      string
	MessageID   string
	ContentType string
	Data        string // JSON-encoded content payload
	Sender      bool
	MemberID    string
	ReplyID     string
	SendStatus  SendStatus
	Timestamp   string
}

// JournalEntry is a full outbound message payload queued because a send
// attempt failed. Entries drain strictly FIFO by Seq.
type JournalEntry struct {
	Seq         int64
	ChatID      string
	MessageID   string
	ContentType string
	Data        string
	ReplyID     string
}

// GeneratedBundle is the local side of a bundle this device produced:
// the key pair, commitment values, and label, keyed by the consumed
// link id. It exists only until consumed or expired.
type GeneratedBundle struct {
	LinkID         string
	ConnectionType ConnectionType
	Label          string
	Nonce          string
	PublicKey      string
	PrivateKey     string
	PublicKeyHash  string
	Timestamp      string
}

// ReadBundle is a bundle read from a peer whose chat creation failed for
// network reasons; it is retried on the next backlog pull.
type ReadBundle struct {
	LinkID    string
	Raw       string
	Timestamp string
}

// GroupMember is one member of a group chat. Its crypto record is
// populated lazily as messages from that member arrive.
type GroupMember struct {
	ChatID   string
	MemberID string
	Name     string
	CryptoID string
}

// Profile is the device's local identity.
type Profile struct {
	Name         string
	AvatarPath   string
	UserID       string
	SharedSecret string
}
