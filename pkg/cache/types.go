package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Tier names reported on cache hits
const (
	TierLocal  = "local"
	TierShared = "shared"
)

// Entry is a cached decision
type Entry struct {
	Allowed      bool      `json:"allowed"`
	Code         string    `json:"code"`
	Reason       string    `json:"reason,omitempty"`
	MatchedRoles []string  `json:"matched_roles,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Generation is the shared-tier epoch the entry was written under. A
	// reader treats an entry whose generation is no longer current as a miss.
	Generation Generation `json:"generation,omitempty"`

	// Tier is set on reads to the tier that served the entry
	Tier string `json:"-"`
}

// Generation is an opaque invalidation epoch captured before a decision is
// computed. A write carrying a stale generation is dropped, so a decision
// computed from data that was invalidated mid-flight never lands in the cache.
type Generation string

// Cache is the decision cache contract shared by every tier
type Cache interface {
	// Generation returns the current epoch for a user within a tenant
	Generation(ctx context.Context, tenantID, userID int64) (Generation, error)

	// Get returns the cached entry or nil on a miss
	Get(ctx context.Context, key Key) (*Entry, error)

	// Put stores an entry until entry.ExpiresAt, unless gen is stale
	Put(ctx context.Context, key Key, entry *Entry, gen Generation) error

	// Invalidate removes every entry matching the pattern
	Invalidate(ctx context.Context, pattern Pattern) error
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	HitRate   float64
	ItemCount int64
}

// Config holds local tier configuration
type Config struct {
	Shards     int           // Number of independently locked shards (default: 32)
	MaxEntries int           // Max entries per shard (default: 4096)
	TTL        time.Duration // Upper bound on entry lifetime (default: 30s)
}

// DefaultConfig returns default local tier configuration
func DefaultConfig() *Config {
	return &Config{
		Shards:     32,
		MaxEntries: 4096,
		TTL:        30 * time.Second,
	}
}

func formatGeneration(tenantGen, userGen uint64) Generation {
	return Generation(strconv.FormatUint(tenantGen, 10) + "." + strconv.FormatUint(userGen, 10))
}

func parseGeneration(gen Generation) (tenantGen, userGen string, err error) {
	t, u, ok := strings.Cut(string(gen), ".")
	if !ok || t == "" || u == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidGeneration, gen)
	}
	return t, u, nil
}
