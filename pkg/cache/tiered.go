package cache

import (
	"context"
	"strings"
)

// TieredCache layers the local tier over the shared tier. The shared tier
// decides what is current: invalidations reach it first, and a decision is
// only written locally after the shared write succeeded.
type TieredCache struct {
	local  *LocalCache
	shared *RedisCache

	// OnRemoteInvalidation is called after a remote pattern is applied locally
	OnRemoteInvalidation func(pattern Pattern, err error)
}

// NewTieredCache composes the two tiers
func NewTieredCache(local *LocalCache, shared *RedisCache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

// Local returns the local tier
func (c *TieredCache) Local() *LocalCache {
	return c.local
}

// Shared returns the shared tier
func (c *TieredCache) Shared() *RedisCache {
	return c.shared
}

// Generation combines both tiers' epochs
func (c *TieredCache) Generation(ctx context.Context, tenantID, userID int64) (Generation, error) {
	localGen, err := c.local.Generation(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	sharedGen, err := c.shared.Generation(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	return localGen + "|" + sharedGen, nil
}

func splitTiered(gen Generation) (local, shared Generation, err error) {
	l, s, ok := strings.Cut(string(gen), "|")
	if !ok {
		return "", "", ErrInvalidGeneration
	}
	return Generation(l), Generation(s), nil
}

// Get checks the local tier, then the shared tier. A local hit is served
// only while its shared generation is still current, so an invalidation
// made by any process is honoured even if its broadcast never arrives. A
// shared hit is copied into the local tier under the local generation read
// before the lookup.
func (c *TieredCache) Get(ctx context.Context, key Key) (*Entry, error) {
	entry, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		current, err := c.shared.Generation(ctx, key.TenantID, key.UserID)
		if err != nil {
			return nil, err
		}
		if entry.Generation == current {
			return entry, nil
		}
		c.local.remove(key)
	}

	localGen, err := c.local.Generation(ctx, key.TenantID, key.UserID)
	if err != nil {
		return nil, err
	}
	entry, err = c.shared.Get(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}

	if err := c.local.Put(ctx, key, entry, localGen); err != nil {
		return nil, err
	}
	return entry, nil
}

// Put writes to the shared tier and then the local tier. If the shared
// write fails nothing is cached locally. The local copy remembers the
// shared generation it was written under.
func (c *TieredCache) Put(ctx context.Context, key Key, entry *Entry, gen Generation) error {
	localGen, sharedGen, err := splitTiered(gen)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	if err := c.shared.Put(ctx, key, entry, sharedGen); err != nil {
		return err
	}
	stored := *entry
	stored.Generation = sharedGen
	return c.local.Put(ctx, key, &stored, localGen)
}

// Invalidate clears the shared tier first and the local tier second. The
// local tier is cleared even when the shared tier fails; the shared error
// is returned.
func (c *TieredCache) Invalidate(ctx context.Context, pattern Pattern) error {
	sharedErr := c.shared.Invalidate(ctx, pattern)
	if err := c.local.Invalidate(ctx, pattern); err != nil {
		return err
	}
	return sharedErr
}

// Start subscribes to invalidations from other processes and purges them
// from the local tier until ctx is cancelled. The purge frees memory early;
// correctness does not depend on delivery.
func (c *TieredCache) Start(ctx context.Context) error {
	self := c.shared.InstanceID()
	return c.shared.Subscribe(ctx, func(origin string, pattern Pattern) {
		if origin == self {
			return
		}
		err := c.local.Invalidate(ctx, pattern)
		if c.OnRemoteInvalidation != nil {
			c.OnRemoteInvalidation(pattern, err)
		}
	})
}

// Close closes the shared tier and clears the local tier
func (c *TieredCache) Close() error {
	c.local.Clear()
	return c.shared.Close()
}
