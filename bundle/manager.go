package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/crypto"
	"github.com/quietlink/quietlink/storage"
)

// Manager generates, parses, and consumes connection bundles. All
// bundle-store mutations go through the store's collection lock.
type Manager struct {
	store *storage.Store
	pool  *LinkPool

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewManager wires a bundle manager over the store and link pool.
func NewManager(store *storage.Store, pool *LinkPool) *Manager {
	return &Manager{store: store, pool: pool, now: time.Now}
}

// Generate allocates a link, mints a fresh key pair and commitment
// nonce, persists the local side keyed by the link id, and returns the
// bundle to display. The label becomes the connection's initial name
// when a peer uses the bundle.
func (m *Manager) Generate(ctx context.Context, label string) (*Bundle, error) {
	linkID, err := m.pool.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate bundle keys: %w", err)
	}
	nonce, err := crypto.GenerateNonceHex()
	if err != nil {
		return nil, err
	}

	pubHex := keys.PublicHex()
	b := &Bundle{
		Org:            Org,
		Timestamp:      m.now().UTC().Format(time.RFC3339Nano),
		ConnectionType: TypeDirect,
		Version:        Version,
		Data: Data{
			LinkID:     linkID,
			Nonce:      nonce,
			PubkeyHash: crypto.HashHex(pubHex),
		},
	}

	err = m.store.WithLock(func() error {
		return m.store.SaveGeneratedBundle(storage.GeneratedBundle{
			LinkID:         linkID,
			ConnectionType: storage.ConnectionDirect,
			Label:          label,
			Nonce:          nonce,
			PublicKey:      pubHex,
			PrivateKey:     keys.PrivateHex(),
			PublicKeyHash:  b.Data.PubkeyHash,
			Timestamp:      b.Timestamp,
		})
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Generate",
		"link_id":  linkID,
		"label":    label,
	}).Info("Connection bundle generated")
	return b, nil
}

// GenerateSuperport allocates a link and mints a reusable bundle. The
// stored record survives consumption so any number of peers can open a
// chat through it until it expires or is deleted.
func (m *Manager) GenerateSuperport(ctx context.Context, label string) (*Bundle, error) {
	linkID, err := m.pool.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate superport keys: %w", err)
	}
	nonce, err := crypto.GenerateNonceHex()
	if err != nil {
		return nil, err
	}

	pubHex := keys.PublicHex()
	b := &Bundle{
		Org:            Org,
		Timestamp:      m.now().UTC().Format(time.RFC3339Nano),
		ConnectionType: TypeSuperport,
		Version:        Version,
		Data: Data{
			LinkID:     linkID,
			Nonce:      nonce,
			PubkeyHash: crypto.HashHex(pubHex),
			Name:       label,
		},
	}

	err = m.store.WithLock(func() error {
		return m.store.SaveGeneratedBundle(storage.GeneratedBundle{
			LinkID:         linkID,
			ConnectionType: storage.ConnectionSuperport,
			Label:          label,
			Nonce:          nonce,
			PublicKey:      pubHex,
			PrivateKey:     keys.PrivateHex(),
			PublicKeyHash:  b.Data.PubkeyHash,
			Timestamp:      b.Timestamp,
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateGroup allocates a group join link and returns the bundle to
// display. Group bundles carry no crypto commitments; trust is anchored
// in server-side membership.
func (m *Manager) GenerateGroup(ctx context.Context, groupID, name, description string) (*Bundle, error) {
	linkID, err := m.pool.AllocateGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		Org:            Org,
		Timestamp:      m.now().UTC().Format(time.RFC3339Nano),
		ConnectionType: TypeGroup,
		Version:        Version,
		Data: Data{
			LinkID:      linkID,
			Name:        name,
			Description: description,
		},
	}
	return b, nil
}

// Parse validates a raw out-of-band payload. See Parse.
func (m *Manager) Parse(raw string) (*Bundle, error) {
	return Parse(raw)
}

// ConsumeGenerated looks up and deletes the local side of a generated
// bundle. Superport bundles are multi-use and survive consumption.
// Returns storage.ErrNotFound if the bundle was already consumed, never
// existed, or has expired.
func (m *Manager) ConsumeGenerated(linkID string) (*storage.GeneratedBundle, error) {
	var out *storage.GeneratedBundle
	err := m.store.WithLock(func() error {
		if err := m.purgeExpiredLocked(); err != nil {
			return err
		}
		b, err := m.store.GetGeneratedBundle(linkID)
		if err != nil {
			return err
		}
		if b.ConnectionType != storage.ConnectionSuperport {
			if err := m.store.DeleteGeneratedBundle(linkID); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	return out, err
}

// GetGenerated returns the local side of a generated bundle without
// consuming it. Expired bundles are treated as absent.
func (m *Manager) GetGenerated(linkID string) (*storage.GeneratedBundle, error) {
	var out *storage.GeneratedBundle
	err := m.store.WithLock(func() error {
		if err := m.purgeExpiredLocked(); err != nil {
			return err
		}
		b, err := m.store.GetGeneratedBundle(linkID)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// ListGenerated returns all live generated bundles, purging expired
// ones first.
func (m *Manager) ListGenerated() ([]storage.GeneratedBundle, error) {
	var out []storage.GeneratedBundle
	err := m.store.WithLock(func() error {
		if err := m.purgeExpiredLocked(); err != nil {
			return err
		}
		list, err := m.store.ListGeneratedBundles()
		if err != nil {
			return err
		}
		out = list
		return nil
	})
	return out, err
}

// SavePendingRead persists a read bundle whose chat creation failed for
// network reasons.
func (m *Manager) SavePendingRead(b *Bundle) error {
	raw, err := b.Serialize()
	if err != nil {
		return err
	}
	return m.store.WithLock(func() error {
		return m.store.SaveReadBundle(storage.ReadBundle{
			LinkID:    b.Data.LinkID,
			Raw:       raw,
			Timestamp: b.Timestamp,
		})
	})
}

// PendingReads returns stored read bundles awaiting retry, dropping any
// that expired while waiting.
func (m *Manager) PendingReads() ([]*Bundle, error) {
	var out []*Bundle
	err := m.store.WithLock(func() error {
		rows, err := m.store.ListReadBundles()
		if err != nil {
			return err
		}
		for _, row := range rows {
			b, err := Parse(row.Raw)
			if err != nil || b.Expired(m.now()) {
				// Unparseable or stale entries are dropped, not retried.
				if err := m.store.DeleteReadBundle(row.LinkID); err != nil {
					return err
				}
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

// DeletePendingRead drops a pending read bundle after a successful
// retry or explicit discard.
func (m *Manager) DeletePendingRead(linkID string) error {
	return m.store.WithLock(func() error {
		return m.store.DeleteReadBundle(linkID)
	})
}

// purgeExpiredLocked removes generated bundles past the validity
// window, with their key material never having left the store. Caller
// holds the lock.
func (m *Manager) purgeExpiredLocked() error {
	list, err := m.store.ListGeneratedBundles()
	if err != nil {
		return err
	}
	now := m.now()
	for _, b := range list {
		if timestampExpired(b.Timestamp, now) {
			logrus.WithFields(logrus.Fields{
				"function": "purgeExpiredLocked",
				"link_id":  b.LinkID,
			}).Debug("Purging expired generated bundle")
			if err := m.store.DeleteGeneratedBundle(b.LinkID); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsNotFound reports whether an error means "bundle absent", including
// the expired-as-absent case.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
