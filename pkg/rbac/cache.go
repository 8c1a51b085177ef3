package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// PermissionCache holds the resolved active role names of a user. Entries
// carry their own expiry so a cached set never outlives the next assignment
// boundary.
//
// Every user has a generation that Invalidate advances. A loader reads the
// generation before it reads the store and passes it to Set, so a role set
// loaded before an invalidation is never written back after it.
type PermissionCache interface {
	// Get returns the cached role names. ok is false on a miss.
	Get(ctx context.Context, userID int64) (roles []string, ok bool, err error)
	// Generation returns the current generation of userID.
	Generation(ctx context.Context, userID int64) (uint64, error)
	// Set stores roles for at most ttl if userID is still at generation gen.
	// A stale generation or a non-positive ttl is a no-op.
	Set(ctx context.Context, userID int64, gen uint64, roles []string, ttl time.Duration) error
	// Invalidate drops the entries of every listed user and advances their
	// generations.
	Invalidate(ctx context.Context, userIDs ...int64) error
	// Name identifies the backend in metrics.
	Name() string
}

type memoryEntry struct {
	roles     []string
	expiresAt time.Time
}

// MemoryCache is a per-process LRU of role sets.
type MemoryCache struct {
	lru *expirable.LRU[int64, memoryEntry]
	now func() time.Time

	mu          sync.Mutex
	generations map[int64]uint64
}

// NewMemoryCache creates an LRU holding up to size users. maxTTL bounds every
// entry; Set may shorten it per entry.
func NewMemoryCache(size int, maxTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = 10000
	}
	return &MemoryCache{
		lru:         expirable.NewLRU[int64, memoryEntry](size, nil, maxTTL),
		now:         time.Now,
		generations: make(map[int64]uint64),
	}
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) Get(_ context.Context, userID int64) ([]string, bool, error) {
	entry, ok := c.lru.Get(userID)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		c.lru.Remove(userID)
		return nil, false, nil
	}
	return append([]string{}, entry.roles...), true, nil
}

func (c *MemoryCache) Generation(_ context.Context, userID int64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], nil
}

func (c *MemoryCache) Set(_ context.Context, userID int64, gen uint64, roles []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userID] != gen {
		return nil
	}
	c.lru.Add(userID, memoryEntry{
		roles:     append([]string{}, roles...),
		expiresAt: c.now().Add(ttl),
	})
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, userIDs ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		c.generations[id]++
		c.lru.Remove(id)
	}
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

// RedisCacheConfig configures a shared Redis-backed cache.
type RedisCacheConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// generationTTL keeps a Redis generation key alive well past any role set
// written under it.
const generationTTL = 24 * time.Hour

var errStaleGeneration = errors.New("stale cache generation")

// RedisCache shares role sets between processes. Generations live in Redis
// so an invalidation by one process fences loads running in every other.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg RedisCacheConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisCacheFromClient wraps an existing client. An empty prefix defaults
// to "warden".
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "warden"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Name() string { return "redis" }

func (c *RedisCache) key(userID int64) string {
	return c.prefix + ":roles:" + strconv.FormatInt(userID, 10)
}

func (c *RedisCache) generationKey(userID int64) string {
	return c.prefix + ":roles-gen:" + strconv.FormatInt(userID, 10)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *RedisCache) readGeneration(ctx context.Context, r stringGetter, userID int64) (uint64, error) {
	val, err := r.Get(ctx, c.generationKey(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	gen, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache generation %q: %w", val, err)
	}
	return gen, nil
}

func (c *RedisCache) Generation(ctx context.Context, userID int64) (uint64, error) {
	return c.readGeneration(ctx, c.client, userID)
}

func (c *RedisCache) Get(ctx context.Context, userID int64) ([]string, bool, error) {
	key := c.key(userID)

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var roles []string
	if err := json.Unmarshal([]byte(data), &roles); err != nil {
		// corrupt entry; drop it and treat as a miss
		c.client.Del(ctx, key)
		return nil, false, nil
	}
	if roles == nil {
		roles = []string{}
	}
	return roles, true, nil
}

// Set writes roles inside a WATCH on the generation key, so an Invalidate
// landing between the generation check and the write aborts the write.
func (c *RedisCache) Set(ctx context.Context, userID int64, gen uint64, roles []string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if roles == nil {
		roles = []string{}
	}
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("failed to marshal roles: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.readGeneration(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(userID), data, ttl)
			return nil
		})
		return err
	}, c.generationKey(userID))

	if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Incr(ctx, c.generationKey(id))
			pipe.Expire(ctx, c.generationKey(id), generationTTL)
			pipe.Del(ctx, c.key(id))
		}
		return nil
	})
	return err
}

// Ping checks Redis connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
