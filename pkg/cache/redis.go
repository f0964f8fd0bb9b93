package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// putScript writes a decision only if neither generation moved.
// KEYS: tenant generation, user generation, decision key
// ARGV: expected tenant generation, expected user generation, payload, ttl in ms
var putScript = redis.NewScript(`
local t = redis.call('GET', KEYS[1]) or '0'
local u = redis.call('GET', KEYS[2]) or '0'
if t ~= ARGV[1] or u ~= ARGV[2] then
	return 0
end
redis.call('SET', KEYS[3], ARGV[3], 'PX', ARGV[4])
return 1
`)

// RedisConfig configures the shared tier
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// Prefix namespaces every key and the invalidation channel (default: "authz")
	Prefix string

	// InstanceID tags published invalidations (default: random UUID)
	InstanceID string
}

// RedisCache is the shared tier. It is the source of truth for generations
// and broadcasts invalidations so other processes can purge their local tier.
type RedisCache struct {
	client     *redis.Client
	prefix     string
	instanceID string
	now        func() time.Time
}

// invalidationMessage is published on every invalidation
type invalidationMessage struct {
	Origin   string `json:"origin"`
	TenantID int64  `json:"tenant_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
}

// NewRedisCache connects to Redis and returns the shared tier
func NewRedisCache(config RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, config.Prefix, config.InstanceID), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, prefix, instanceID string) *RedisCache {
	if prefix == "" {
		prefix = "authz"
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	return &RedisCache{
		client:     client,
		prefix:     prefix,
		instanceID: instanceID,
		now:        time.Now,
	}
}

// InstanceID identifies this process on the invalidation channel
func (c *RedisCache) InstanceID() string {
	return c.instanceID
}

// Channel returns the invalidation channel name
func (c *RedisCache) Channel() string {
	return c.prefix + ":invalidations"
}

func (c *RedisCache) decisionKey(key Key) string {
	return c.prefix + ":decision:" + key.String()
}

func (c *RedisCache) tenantGenKey(tenantID int64) string {
	return c.prefix + ":gen:tenant:" + strconv.FormatInt(tenantID, 10)
}

func (c *RedisCache) userGenKey(userID int64) string {
	return c.prefix + ":gen:user:" + strconv.FormatInt(userID, 10)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", ErrCacheUnavailable, op, err)
}

// Generation returns the current epoch for a user within a tenant
func (c *RedisCache) Generation(ctx context.Context, tenantID, userID int64) (Generation, error) {
	vals, err := c.client.MGet(ctx, c.tenantGenKey(tenantID), c.userGenKey(userID)).Result()
	if err != nil {
		return "", unavailable("mget", err)
	}
	return generationFromValues(vals)
}

func generationFromValues(vals []interface{}) (Generation, error) {
	gens := [2]uint64{}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidGeneration, s)
		}
		gens[i] = n
	}
	return formatGeneration(gens[0], gens[1]), nil
}

// Get retrieves a decision from the shared tier. The decision and both
// generation counters are read together; an entry written under an older
// generation is a miss even if its key survived the invalidation.
func (c *RedisCache) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	k := c.decisionKey(key)
	vals, err := c.client.MGet(ctx, k, c.tenantGenKey(key.TenantID), c.userGenKey(key.UserID)).Result()
	if err != nil {
		return nil, unavailable("mget", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	current, err := generationFromValues(vals[1:])
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Corrupt data is dropped and treated as a miss
		c.client.Del(ctx, k)
		return nil, nil
	}
	if entry.Generation != current || !c.now().Before(entry.ExpiresAt) {
		return nil, nil
	}

	entry.Tier = TierShared
	return &entry, nil
}

// Put stores a decision if the generation is still current
func (c *RedisCache) Put(ctx context.Context, key Key, entry *Entry, gen Generation) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	tenantGen, userGen, err := parseGeneration(gen)
	if err != nil {
		return err
	}

	ttl := entry.ExpiresAt.Sub(c.now()).Milliseconds()
	if ttl <= 0 {
		return nil
	}

	stored := *entry
	stored.Generation = gen
	stored.Tier = ""
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	keys := []string{c.tenantGenKey(key.TenantID), c.userGenKey(key.UserID), c.decisionKey(key)}
	if err := putScript.Run(ctx, c.client, keys, tenantGen, userGen, data, ttl).Err(); err != nil {
		return unavailable("put", err)
	}
	return nil
}

// Invalidate advances the generation, deletes matching decisions and
// broadcasts the pattern to other processes
func (c *RedisCache) Invalidate(ctx context.Context, pattern Pattern) error {
	if err := pattern.Validate(); err != nil {
		return err
	}

	genKey := c.userGenKey(pattern.UserID)
	if pattern.TenantWide() {
		genKey = c.tenantGenKey(pattern.TenantID)
	}
	if err := c.client.Incr(ctx, genKey).Err(); err != nil {
		return unavailable("incr", err)
	}

	match := c.prefix + ":decision:" + pattern.Glob()
	iter := c.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return unavailable("del", err)
		}
	}
	if err := iter.Err(); err != nil {
		return unavailable("scan", err)
	}

	msg, err := json.Marshal(invalidationMessage{
		Origin:   c.instanceID,
		TenantID: pattern.TenantID,
		UserID:   pattern.UserID,
		Resource: pattern.Resource,
		Action:   pattern.Action,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := c.client.Publish(ctx, c.Channel(), msg).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe delivers invalidations published by any process, including this
// one, until ctx is cancelled. It returns once the subscription is confirmed
// or fails; delivery continues in the background.
func (c *RedisCache) Subscribe(ctx context.Context, handler func(origin string, pattern Pattern)) error {
	pubsub := c.client.Subscribe(ctx, c.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return unavailable("subscribe", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m invalidationMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					continue
				}
				handler(m.Origin, Pattern{
					TenantID: m.TenantID,
					UserID:   m.UserID,
					Resource: m.Resource,
					Action:   m.Action,
				})
			}
		}
	}()
	return nil
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// SetClock overrides the clock used for entry expiry
func (c *RedisCache) SetClock(now func() time.Time) {
	c.now = now
}
