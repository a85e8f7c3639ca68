package bundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quietlink/quietlink/storage"
	"github.com/quietlink/quietlink/transport"
)

const (
	// LowWaterMark is the pool size below which a background
	// replenishment is kicked off.
	LowWaterMark = 5
)

// ErrPoolExhausted indicates the local pool is empty and the allocation
// service could not be reached. Hard failure for bundle generation.
var ErrPoolExhausted = errors.New("link pool exhausted")

// LinkPool hands out single-use link ids, replenishing from the
// allocation service. Pops are serialized by the store's collection
// lock so no link id is ever embedded in two live bundles. Network
// fetches always happen outside the lock; the token provider takes the
// same lock itself.
type LinkPool struct {
	store *storage.Store
	api   transport.API
	auth  transport.Authenticator
}

// NewLinkPool wires a pool over the store and allocation service.
func NewLinkPool(store *storage.Store, api transport.API, auth transport.Authenticator) *LinkPool {
	return &LinkPool{store: store, api: api, auth: auth}
}

// Allocate pops one direct link id. An empty pool triggers a
// synchronous fetch from the allocation service; a pool below the
// low-water mark triggers a background one. Returns ErrPoolExhausted
// only if the pool is empty and the fetch also fails.
func (p *LinkPool) Allocate(ctx context.Context) (string, error) {
	linkID, err := p.allocate(ctx, string(storage.ConnectionDirect), "", p.fetchDirect)
	if err != nil {
		return "", err
	}
	p.replenishIfLow(ctx)
	return linkID, nil
}

// AllocateGroup pops one join link for a group, fetching a batch from
// the service when none are pooled.
func (p *LinkPool) AllocateGroup(ctx context.Context, groupID string) (string, error) {
	fetch := func(ctx context.Context, token string) ([]string, error) {
		return p.api.AllocateGroupLinks(ctx, token, groupID)
	}
	return p.allocate(ctx, "group:"+groupID, groupID, fetch)
}

func (p *LinkPool) allocate(ctx context.Context, linkType, groupID string, fetch func(context.Context, string) ([]string, error)) (string, error) {
	pop := func() (string, error) {
		var id string
		err := p.store.WithLock(func() error {
			got, err := p.store.PopLink(linkType)
			if err != nil {
				return err
			}
			id = got
			return nil
		})
		return id, err
	}

	id, err := pop()
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if err := p.fetchAndStore(ctx, linkType, groupID, fetch); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}
	id, err = pop()
	if err != nil {
		return "", fmt.Errorf("%w: pool empty after refill", ErrPoolExhausted)
	}
	return id, nil
}

// fetchAndStore pulls a batch of links from the service and pools them.
// Must not hold the collection lock: the token provider takes it.
func (p *LinkPool) fetchAndStore(ctx context.Context, linkType, groupID string, fetch func(context.Context, string) ([]string, error)) error {
	token, err := p.auth.Token(ctx)
	if err != nil {
		return err
	}
	links, err := fetch(ctx, token)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return errors.New("allocation service returned no links")
	}
	logrus.WithFields(logrus.Fields{
		"function":  "fetchAndStore",
		"link_type": linkType,
		"count":     len(links),
	}).Debug("Link pool replenished")
	return p.store.WithLock(func() error {
		return p.store.AddLinks(links, linkType, groupID)
	})
}

func (p *LinkPool) fetchDirect(ctx context.Context, token string) ([]string, error) {
	return p.api.AllocateDirectLinks(ctx, token)
}

// replenishIfLow starts a background refill when the direct pool is
// running low. Best-effort: a failed background refill only logs.
func (p *LinkPool) replenishIfLow(ctx context.Context) {
	count, err := p.store.CountLinks(string(storage.ConnectionDirect))
	if err != nil || count >= LowWaterMark {
		return
	}
	go func() {
		err := p.fetchAndStore(ctx, string(storage.ConnectionDirect), "", p.fetchDirect)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "replenishIfLow",
				"error":    err.Error(),
			}).Warn("Background link replenishment failed")
		}
	}()
}
