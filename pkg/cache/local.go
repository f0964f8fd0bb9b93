package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalCache is the in-process tier. Entries are spread over shards by user
// id so invalidating one user only locks one shard.
//
// Puts hold the shard read lock while checking their generation and
// invalidations hold the write lock while purging, so a stale put either
// lands before the purge (and is removed by it) or sees the new generation
// (and is dropped).
type LocalCache struct {
	shards []*localShard
	ttl    time.Duration
	now    func() time.Time

	tenantGens sync.Map // int64 -> *atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64
}

type localShard struct {
	mu       sync.RWMutex
	entries  *lru.LRU[string, localItem]
	userGens map[int64]uint64
}

type localItem struct {
	key   Key
	entry Entry
}

// NewLocalCache creates a sharded local cache
func NewLocalCache(config *Config) *LocalCache {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Shards <= 0 {
		config.Shards = defaults.Shards
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}

	c := &LocalCache{
		shards: make([]*localShard, config.Shards),
		ttl:    config.TTL,
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i] = &localShard{
			entries:  lru.NewLRU[string, localItem](config.MaxEntries, nil, config.TTL),
			userGens: make(map[int64]uint64),
		}
	}
	return c
}

// SetClock overrides the clock used for entry expiry
func (c *LocalCache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *LocalCache) shardFor(userID int64) *localShard {
	var buf [8]byte
	u := uint64(userID)
	for i := range buf {
		buf[i] = byte(u >> (8 * i))
	}
	return c.shards[xxhash.Sum64(buf[:])%uint64(len(c.shards))]
}

func (c *LocalCache) tenantGen(tenantID int64) *atomic.Uint64 {
	if v, ok := c.tenantGens.Load(tenantID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := c.tenantGens.LoadOrStore(tenantID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// Generation returns the current epoch for a user within a tenant
func (c *LocalCache) Generation(_ context.Context, tenantID, userID int64) (Generation, error) {
	shard := c.shardFor(userID)
	shard.mu.RLock()
	userGen := shard.userGens[userID]
	shard.mu.RUnlock()
	return formatGeneration(c.tenantGen(tenantID).Load(), userGen), nil
}

func (c *LocalCache) generationLocked(shard *localShard, tenantID, userID int64) Generation {
	return formatGeneration(c.tenantGen(tenantID).Load(), shard.userGens[userID])
}

// Get retrieves a decision from the local tier
func (c *LocalCache) Get(_ context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	shard := c.shardFor(key.UserID)
	k := key.String()
	item, ok := shard.entries.Get(k)
	if !ok {
		c.misses.Add(1)
		return nil, nil
	}
	if !c.now().Before(item.entry.ExpiresAt) {
		shard.entries.Remove(k)
		c.misses.Add(1)
		return nil, nil
	}

	c.hits.Add(1)
	entry := item.entry
	entry.MatchedRoles = append([]string(nil), item.entry.MatchedRoles...)
	entry.Tier = TierLocal
	return &entry, nil
}

// Put stores a decision unless the generation moved since it was captured
func (c *LocalCache) Put(_ context.Context, key Key, entry *Entry, gen Generation) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if entry == nil || !c.now().Before(entry.ExpiresAt) {
		return nil
	}

	shard := c.shardFor(key.UserID)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	if c.generationLocked(shard, key.TenantID, key.UserID) != gen {
		return nil
	}

	stored := *entry
	stored.MatchedRoles = append([]string(nil), entry.MatchedRoles...)
	stored.Tier = ""
	shard.entries.Add(key.String(), localItem{key: key, entry: stored})
	return nil
}

// Invalidate removes matching entries and advances the generation so that
// in-flight computations cannot write back stale results
func (c *LocalCache) Invalidate(_ context.Context, pattern Pattern) error {
	if err := pattern.Validate(); err != nil {
		return err
	}

	if pattern.TenantWide() {
		c.tenantGen(pattern.TenantID).Add(1)
		for _, shard := range c.shards {
			shard.mu.Lock()
			shard.purge(pattern)
			shard.mu.Unlock()
		}
		return nil
	}

	shard := c.shardFor(pattern.UserID)
	shard.mu.Lock()
	shard.userGens[pattern.UserID]++
	shard.purge(pattern)
	shard.mu.Unlock()
	return nil
}

func (c *LocalCache) remove(key Key) {
	shard := c.shardFor(key.UserID)
	shard.mu.Lock()
	shard.entries.Remove(key.String())
	shard.mu.Unlock()
}

func (s *localShard) purge(pattern Pattern) {
	for _, k := range s.entries.Keys() {
		item, ok := s.entries.Peek(k)
		if ok && pattern.Matches(item.key) {
			s.entries.Remove(k)
		}
	}
}

// Clear removes every entry
func (c *LocalCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.entries.Purge()
		shard.mu.Unlock()
	}
}

// Stats returns local tier statistics
func (c *LocalCache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var items int64
	for _, shard := range c.shards {
		items += int64(shard.entries.Len())
	}

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:      hits,
		Misses:    misses,
		HitRate:   hitRate,
		ItemCount: items,
	}
}
