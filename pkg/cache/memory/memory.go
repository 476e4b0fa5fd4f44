// Package memory implements the process-local l1 cache tier.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/models"
)

const tierName = "l1"

// Tier is an in-process LRU cache with a fixed TTL and bounded capacity.
type Tier struct {
	lru    *expirable.LRU[string, models.CacheEntry]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates the l1 tier. Entries expire after ttl; the least recently
// used entry is evicted once capacity is reached.
func New(capacity int, ttl time.Duration) *Tier {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Tier{
		lru: expirable.NewLRU[string, models.CacheEntry](capacity, nil, ttl),
		ttl: ttl,
	}
}

func (t *Tier) Name() string { return tierName }

// Get returns the cached entry, or cache.ErrMiss when absent or expired.
func (t *Tier) Get(_ context.Context, key string) (models.CacheEntry, error) {
	entry, ok := t.lru.Get(key)
	if !ok {
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	t.hits.Add(1)
	return entry, nil
}

// Put stores the entry, refusing to replace a newer version for the same
// fingerprint with an older one.
func (t *Tier) Put(_ context.Context, key string, entry models.CacheEntry) error {
	if existing, ok := t.lru.Get(key); ok && existing.Version > entry.Version {
		return nil
	}
	if entry.TTL == 0 {
		entry.TTL = t.ttl
	}
	t.lru.Add(key, entry)
	return nil
}

func (t *Tier) Stats(_ context.Context) (models.TierStats, error) {
	return models.TierStats{
		Tier:    tierName,
		Entries: int64(t.lru.Len()),
		Hits:    t.hits.Load(),
		Misses:  t.misses.Load(),
	}, nil
}

// Purge removes every entry.
func (t *Tier) Purge() { t.lru.Purge() }

func (t *Tier) Close() error {
	t.lru.Purge()
	return nil
}
