// Package redis implements the shared l2 cache tier on top of Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/models"
)

const tierName = "l2"

// Config holds Redis connection and tier settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TTL          time.Duration `yaml:"ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Tier is the Redis-backed cache tier shared across gateway instances.
type Tier struct {
	client    *goredis.Client
	keyPrefix string
	ttl       time.Duration
	hits      atomic.Int64
	misses    atomic.Int64
}

// New connects to Redis. Connection failures at startup are not fatal:
// the tier degrades to misses until Redis becomes reachable.
func New(cfg Config) *Tier {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "predyx:cache:"
	}
	return &Tier{
		client: goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
		keyPrefix: prefix,
		ttl:       cfg.TTL,
	}
}

func (t *Tier) Name() string { return tierName }

func (t *Tier) key(fingerprint string) string {
	return t.keyPrefix + fingerprint
}

// Get fetches the entry from Redis. A missing key or an expired entry is
// cache.ErrMiss; connection errors are wrapped as cache.ErrTierUnavailable.
func (t *Tier) Get(ctx context.Context, key string) (models.CacheEntry, error) {
	data, err := t.client.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: redis get: %v", cache.ErrTierUnavailable, err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry, drop it and report a miss.
		t.client.Del(ctx, t.key(key))
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	if entry.Expired(time.Now().UTC()) {
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	t.hits.Add(1)
	return entry, nil
}

// Put stores the entry with the tier TTL so Redis evicts it on its own.
func (t *Tier) Put(ctx context.Context, key string, entry models.CacheEntry) error {
	if entry.TTL == 0 {
		entry.TTL = t.ttl
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := t.client.Set(ctx, t.key(key), data, t.ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set: %v", cache.ErrTierUnavailable, err)
	}
	return nil
}

func (t *Tier) Stats(ctx context.Context) (models.TierStats, error) {
	count, err := t.client.DBSize(ctx).Result()
	if err != nil {
		return models.TierStats{}, fmt.Errorf("%w: redis dbsize: %v", cache.ErrTierUnavailable, err)
	}
	return models.TierStats{
		Tier:    tierName,
		Entries: count,
		Hits:    t.hits.Load(),
		Misses:  t.misses.Load(),
	}, nil
}

func (t *Tier) Close() error {
	return t.client.Close()
}
