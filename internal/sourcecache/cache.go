// Package sourcecache is a read-through, short-TTL cache of the remote
// source catalog. The clock and the backing store are injected so tests can
// control expiry deterministically; the cache is never a source of truth.
package sourcecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/signalpost/signalpost/internal/remote"
	"github.com/signalpost/signalpost/internal/store"
)

// DefaultTTL is how long a cached catalog stays fresh. Short on purpose:
// the catalog is only used to render pickers, and a stale entry self-heals
// on the next read.
const DefaultTTL = 5 * time.Minute

// FetchFunc retrieves the catalog from the remote service. partial reports
// that the fetch stopped early (time budget) and more sources exist.
type FetchFunc func(ctx context.Context) (sources []remote.Source, partial bool, err error)

// Cache caches source catalogs per tenant.
type Cache struct {
	store *store.Store
	ttl   time.Duration
	clock func() time.Time
}

// Opts holds parameters for creating a Cache.
type Opts struct {
	Store *store.Store
	TTL   time.Duration    // defaults to DefaultTTL
	Clock func() time.Time // defaults to time.Now
}

// New creates a Cache.
func New(opts Opts) (*Cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("sourcecache: store is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{store: opts.Store, ttl: ttl, clock: clock}, nil
}

// entry is the stored form of one tenant's cached catalog.
type entry struct {
	Sources   []remote.Source `json:"sources"`
	Partial   bool            `json:"partial"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (c *Cache) key(tenantID string) (store.Key, error) {
	return store.NewKey(tenantID, store.CategoryCache, "sources")
}

// Sources returns the tenant's catalog, from cache when fresh, otherwise via
// fetch. A fetch failure with a stale cache on hand falls back to the stale
// entry rather than failing the caller.
func (c *Cache) Sources(ctx context.Context, tenantID string, fetch FetchFunc) ([]remote.Source, error) {
	cached, ok, err := c.read(tenantID)
	if err != nil {
		return nil, err
	}
	if ok && c.clock().Before(cached.ExpiresAt) {
		return cached.Sources, nil
	}

	sources, partial, err := fetch(ctx)
	if err != nil {
		if ok {
			return cached.Sources, nil
		}
		return nil, err
	}
	if err := c.write(tenantID, sources, partial); err != nil {
		return nil, err
	}
	return sources, nil
}

// Invalidate drops the tenant's cached catalog.
func (c *Cache) Invalidate(tenantID string) error {
	k, err := c.key(tenantID)
	if err != nil {
		return err
	}
	return c.store.Delete(k)
}

func (c *Cache) read(tenantID string) (entry, bool, error) {
	var e entry
	k, err := c.key(tenantID)
	if err != nil {
		return e, false, err
	}
	raw, ok, err := c.store.Get(k)
	if err != nil || !ok {
		return e, false, err
	}
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// A corrupt cache entry is equivalent to a miss.
		return entry{}, false, nil
	}
	return e, true, nil
}

func (c *Cache) write(tenantID string, sources []remote.Source, partial bool) error {
	k, err := c.key(tenantID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(entry{
		Sources:   sources,
		Partial:   partial,
		ExpiresAt: c.clock().Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("sourcecache: encode: %w", err)
	}
	return c.store.Put(k, string(data))
}
