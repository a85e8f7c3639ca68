package quietlink

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/bundle"
	"github.com/quietlink/quietlink/handshake"
	"github.com/quietlink/quietlink/message"
	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

// Options configures a Client. API and Auth default to the HTTP client
// and cached-token provider; tests inject mocks.
type Options struct {
	// DataDir holds the database and downloaded media.
	DataDir string
	// ServerURL is the base URL of the messaging service. Ignored when
	// API is set.
	ServerURL string
	// API overrides the transport implementation.
	API transport.API
	// Auth overrides the token provider.
	Auth transport.Authenticator
}

// Client wires the client core together: store, transport, bundles,
// handshake machine, and message pipeline. One Client per device
// identity; all methods are safe for concurrent use.
type Client struct {
	store    *storage.Store
	api      transport.API
	auth     transport.Authenticator
	bundles  *bundle.Manager
	machine  *handshake.Machine
	sender   *message.Sender
	journal  *message.Journal
	receiver *message.Receiver

	mu         sync.Mutex
	foreground string
}

// New opens the store and constructs the pipeline. Callers must Close.
func New(opts Options) (*Client, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("quietlink: DataDir is required")
	}

	store, err := storage.Open(filepath.Join(opts.DataDir, "quietlink.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	api := opts.API
	if api == nil {
		api = transport.NewHTTP(opts.ServerURL)
	}
	auth := opts.Auth
	if auth == nil {
		challenge, ok := api.(transport.ChallengeAPI)
		if !ok {
			store.Close()
			return nil, fmt.Errorf("quietlink: API does not support challenge auth and no Auth override given")
		}
		auth = transport.NewTokenProvider(store, challenge)
	}

	sender := message.NewSender(store, api, auth)
	bundles := bundle.NewManager(store, bundle.NewLinkPool(store, api, auth))
	machine := handshake.NewMachine(store, api, auth, bundles, sender)
	receiver := message.NewReceiver(store, api, auth, machine, filepath.Join(opts.DataDir, "media"))

	c := &Client{
		store:    store,
		api:      api,
		auth:     auth,
		bundles:  bundles,
		machine:  machine,
		sender:   sender,
		journal:  message.NewJournal(store, sender),
		receiver: receiver,
	}
	receiver.ForegroundChat = c.foregroundChat

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"data_dir": opts.DataDir,
	}).Info("Client initialized")
	return c, nil
}

// Close releases the store.
func (c *Client) Close() error {
	return c.store.Close()
}

// OnMessage registers a callback invoked for every newly persisted
// inbound message.
func (c *Client) OnMessage(callback func(m storage.Message)) {
	c.receiver.OnMessage = callback
}

// OnConnectionAuthenticated registers a callback invoked when a chat
// completes its handshake or group join.
func (c *Client) OnConnectionAuthenticated(callback func(chatID string)) {
	c.machine.OnAuthenticated = callback
}

// OnConnectionRequest registers a callback invoked when a peer consumes
// one of this device's bundles and a new, not yet authenticated chat
// appears.
func (c *Client) OnConnectionRequest(callback func(chatID string)) {
	c.machine.OnNewChat = callback
}

// OnNotification registers the local-notification hook. It fires for
// surfaceable inbound content, unless the chat has notifications off or
// is currently foregrounded.
func (c *Client) OnNotification(callback func(chatID, preview string)) {
	c.receiver.Notify = callback
}

// SetDownloadPolicy gates media auto-download per chat and content
// type. Nil restores the default of always downloading.
func (c *Client) SetDownloadPolicy(allowed func(chatID string, contentType message.ContentType) bool) {
	c.receiver.DownloadAllowed = allowed
}

// SetForegroundChat records which chat the UI is showing, suppressing
// its notifications. Empty means none.
func (c *Client) SetForegroundChat(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foreground = chatID
}

func (c *Client) foregroundChat() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground
}

// SetProfile stores the device identity: display name, optional avatar,
// and the service credentials used for token refresh.
func (c *Client) SetProfile(p storage.Profile) error {
	return c.store.WithLock(func() error {
		return c.store.SaveProfile(p)
	})
}

// Profile returns the device identity, or storage.ErrNotFound before
// SetProfile.
func (c *Client) Profile() (*storage.Profile, error) {
	return c.store.GetProfile()
}

// GenerateBundle produces a serialized single-use connection bundle to
// share out-of-band. The label becomes this side's name for the chat.
func (c *Client) GenerateBundle(ctx context.Context, label string) (string, error) {
	b, err := c.bundles.Generate(ctx, label)
	if err != nil {
		return "", err
	}
	return b.Serialize()
}

// GenerateSuperport produces a serialized multi-use connection bundle.
func (c *Client) GenerateSuperport(ctx context.Context, label string) (string, error) {
	b, err := c.bundles.GenerateSuperport(ctx, label)
	if err != nil {
		return "", err
	}
	return b.Serialize()
}

// GenerateGroupBundle produces a serialized join bundle for a group
// this device belongs to.
func (c *Client) GenerateGroupBundle(ctx context.Context, groupID, name, description string) (string, error) {
	b, err := c.bundles.GenerateGroup(ctx, groupID, name, description)
	if err != nil {
		return "", err
	}
	return b.Serialize()
}

// ReadBundle ingests a peer's bundle: starts the direct handshake or
// joins the group. Format errors are terminal; network failures are
// queued and retried on the next Pull.
func (c *Client) ReadBundle(ctx context.Context, raw string) error {
	return c.machine.ReadBundle(ctx, raw)
}

// SendText sends a text message, journaling it if the network is down.
func (c *Client) SendText(ctx context.Context, chatID, text string) (*storage.Message, error) {
	return c.send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentText,
		Data:        message.TextData{Text: text},
	})
}

// SendFile uploads a local file and sends the reference. Upload
// failures are reported as failed, never journaled.
func (c *Client) SendFile(ctx context.Context, chatID, path, caption string) (*storage.Message, error) {
	return c.send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentFile,
		Data:        message.MediaData{FileName: filepath.Base(path), Caption: caption},
		LocalPath:   path,
	})
}

// SendImage uploads a local image and sends the reference.
func (c *Client) SendImage(ctx context.Context, chatID, path, caption string) (*storage.Message, error) {
	return c.send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentImage,
		Data:        message.MediaData{FileName: filepath.Base(path), Caption: caption},
		LocalPath:   path,
	})
}

// ShareContact relays a third party's bundle through an existing chat.
func (c *Client) ShareContact(ctx context.Context, chatID, bundleRaw, text string) (*storage.Message, error) {
	if _, err := bundle.Parse(bundleRaw); err != nil {
		return nil, err
	}
	return c.send(ctx, chatID, message.Outgoing{
		ContentType: message.ContentContactBundle,
		Data:        message.ContactBundleData{Bundle: bundleRaw, Text: text},
	})
}

func (c *Client) send(ctx context.Context, chatID string, out message.Outgoing) (*storage.Message, error) {
	conn, err := c.store.GetConnection(chatID)
	if err != nil {
		return nil, err
	}
	isGroup := conn.ConnectionType == storage.ConnectionGroup
	return c.sender.Send(ctx, chatID, out, true, isGroup)
}

// Pull fetches everything that queued up while offline: retries pending
// bundle reads, drains the server backlog through the receive path, and
// flushes the journal.
func (c *Client) Pull(ctx context.Context) error {
	if err := c.machine.RetryPendingBundles(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Pull",
			"error":    err.Error(),
		}).Warn("Pending bundle retry failed")
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token: %v", transport.ErrNetwork, err)
	}
	backlog, err := c.api.PullBacklog(ctx, token)
	if err != nil {
		return err
	}
	for _, raw := range backlog {
		if err := c.receiver.Receive(ctx, raw); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Pull",
				"chat_id":  raw.ChatID,
				"group_id": raw.GroupID,
				"error":    err.Error(),
			}).Warn("Backlog message failed")
		}
	}

	if _, err := c.journal.Flush(ctx); err != nil {
		return err
	}
	return nil
}

// Receive feeds one live push into the pipeline. The same payload
// delivered twice is a no-op.
func (c *Client) Receive(ctx context.Context, raw transport.RawMessage) error {
	return c.receiver.Receive(ctx, raw)
}

// FlushJournal resends journaled messages FIFO, stopping at the first
// failure. Returns the number sent.
func (c *Client) FlushJournal(ctx context.Context) (int, error) {
	return c.journal.Flush(ctx)
}

// Chats returns all connections, newest activity first.
func (c *Client) Chats() ([]storage.Connection, error) {
	return c.store.ListConnections()
}

// Messages returns a chat's messages in timestamp order.
func (c *Client) Messages(chatID string) ([]storage.Message, error) {
	return c.store.ListMessages(chatID)
}

// MarkRead resets a chat's unread counter.
func (c *Client) MarkRead(chatID string) error {
	return c.store.MarkConnectionRead(chatID)
}

// SetNotify toggles notification permission for a chat.
func (c *Client) SetNotify(chatID string, notify bool) error {
	return c.store.SetConnectionNotify(chatID, notify)
}

// DeleteChat removes a connection and purges its crypto records,
// messages, and journal entries. Explicit user action only.
func (c *Client) DeleteChat(chatID string) error {
	return c.store.DeleteConnection(chatID)
}
