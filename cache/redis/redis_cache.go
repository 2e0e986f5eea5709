// Package redis provides a Redis-backed resolution cache, letting several
// processes serve checks from one coherent cache.
//
// Invalidation overwrites the key with a short-lived tombstone instead of
// deleting it. A concurrent populate runs under WATCH on the same key, and
// a write fires the WATCH even for keys that never held a value, so the
// populate's EXEC aborts and the invalidation wins the race.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/grantry/grantry"
)

const (
	// tombstone marks a key as invalidated. It cannot collide with a
	// cached resolution, those always marshal to a JSON object.
	tombstone = "!inv"

	DefaultKeyPrefix    = "grantry:"
	DefaultTombstoneTTL = 10 * time.Second
)

var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)

type Config struct {
	ConnectionURL  string        `env:"GRANTRY_REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	RetryAttempts  int           `env:"GRANTRY_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"GRANTRY_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"GRANTRY_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

// Connect establishes a connection to the Redis server given by cfg,
// retrying up to cfg.RetryAttempts times with cfg.RetryInterval between
// attempts.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}

	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrNotReady
}

// Healthcheck returns a probe that reports whether the server behind
// client answers PING, suitable for readiness endpoints.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}

type Option interface {
	do(*cacheConfig)
}

type cacheConfig struct {
	prefix       string
	tombstoneTTL time.Duration
}

type functionAdapter func(*cacheConfig)

func (fn functionAdapter) do(c *cacheConfig) {
	fn(c)
}

// WithKeyPrefix changes the prefix prepended to every cache key, so
// several registries can share one Redis database.
func WithKeyPrefix(prefix string) Option {
	return functionAdapter(func(c *cacheConfig) { c.prefix = prefix })
}

// WithTombstoneTTL changes how long tombstones linger. The TTL only needs
// to outlive in-flight populates; cached resolutions themselves never
// expire.
func WithTombstoneTTL(ttl time.Duration) Option {
	return functionAdapter(func(c *cacheConfig) { c.tombstoneTTL = ttl })
}

type Cache struct {
	client       *redis.Client
	storage      grantry.Storage
	prefix       string
	tombstoneTTL time.Duration
}

func NewCache(client *redis.Client, storage grantry.Storage, options ...Option) *Cache {
	opts := cacheConfig{prefix: DefaultKeyPrefix, tombstoneTTL: DefaultTombstoneTTL}
	lo.ForEach(options, func(o Option, _ int) { o.do(&opts) })
	return &Cache{
		client:       client,
		storage:      storage,
		prefix:       opts.prefix,
		tombstoneTTL: opts.tombstoneTTL,
	}
}

// Get returns the resolution for (action, argument), computing and caching
// it from storage on a miss. The populate runs under WATCH on the key, so
// an invalidation arriving in between aborts the cache write; the caller
// still receives the value it computed. Failed storage lookups propagate
// unchanged.
func (c *Cache) Get(ctx context.Context, action, argument string) (grantry.Resolution, error) {
	key := c.prefix + grantry.Key(action, argument)

	val, err := c.client.Get(ctx, key).Result()
	if err == nil && val != tombstone {
		resolution := grantry.Resolution{}
		if err := json.Unmarshal([]byte(val), &resolution); err != nil {
			return grantry.Resolution{}, err
		}
		return resolution, nil
	}
	if err != nil && err != redis.Nil {
		return grantry.Resolution{}, cacheError(err)
	}

	resolution := grantry.Resolution{}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		grants, err := c.storage.FindMatching(ctx, action, argument)
		if err != nil {
			return err
		}
		resolution = grantry.ResolutionOf(grants)

		data, err := json.Marshal(resolution)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil && err != redis.TxFailedErr {
			return cacheError(err)
		}
		return err
	}, key)
	if err == redis.TxFailedErr {
		// An invalidation won the race. The value computed from storage
		// is still a correct answer for this caller, it just must not be
		// cached.
		return resolution, nil
	}
	if err != nil {
		return grantry.Resolution{}, err
	}
	return resolution, nil
}

// Invalidate marks key stale by overwriting it with a tombstone. The
// tombstone reads as a miss and expires on its own.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Set(ctx, c.prefix+key, tombstone, c.tombstoneTTL).Err(); err != nil {
		return cacheError(err)
	}
	return nil
}

// Ping reports whether the Redis behind the cache is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return Healthcheck(c.client)(ctx)
}

func cacheError(err error) error {
	return errors.Join(grantry.ErrUnavailable, err)
}
