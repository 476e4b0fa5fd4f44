// Package cache implements the gateway's tiered prediction cache.
//
// Three tiers are consulted in order: a process-local LRU (l1), a shared
// Redis cache (l2) and a durable SQLite store (l3). A hit in an outer tier
// is promoted into l1 before it is returned. Writes go to l1 synchronously
// and to the outer tiers in the background; a slow or unavailable outer
// tier never blocks the response path.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/metrics"
	"github.com/predyx-ai/predyx/pkg/models"
)

// ErrMiss is returned by a tier when no live entry exists for a key.
var ErrMiss = errors.New("cache miss")

// ErrTierUnavailable marks a tier outage. The tiered cache treats it as a
// miss and carries on; it is never surfaced to the request path.
var ErrTierUnavailable = errors.New("cache tier unavailable")

// Versioner is implemented by tiers that persist entry versions across
// restarts. The tiered cache seeds its version counter from them so a new
// process never writes versions below rows already stored.
type Versioner interface {
	MaxVersion(ctx context.Context) (uint64, error)
}

// Tier is a single cache layer.
type Tier interface {
	// Name identifies the tier ("l1", "l2", "l3").
	Name() string
	// Get returns the entry for key, ErrMiss when absent or expired, or an
	// error wrapping ErrTierUnavailable when the tier cannot be reached.
	Get(ctx context.Context, key string) (models.CacheEntry, error)
	// Put stores the entry under key. Tiers apply their own TTL when the
	// entry carries none.
	Put(ctx context.Context, key string, entry models.CacheEntry) error
	// Stats reports hit/miss counters for the tier.
	Stats(ctx context.Context) (models.TierStats, error)
	Close() error
}

// Tiered is the cache manager consulted by the gateway.
type Tiered struct {
	tiers   []Tier
	logger  *zap.Logger
	metrics *metrics.Metrics
	version atomic.Uint64

	// putWG tracks in-flight background writes so Close can drain them.
	putWG        sync.WaitGroup
	writeTimeout time.Duration
}

// NewTiered builds a cache manager over the given tiers, fastest first.
// The version counter starts above the highest version any durable tier
// already holds, so writes from this process are never dropped in favor of
// a previous process's rows.
func NewTiered(tiers []Tier, logger *zap.Logger, m *metrics.Metrics) *Tiered {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tiered{
		tiers:        tiers,
		logger:       logger,
		metrics:      m,
		writeTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	for _, tier := range tiers {
		v, ok := tier.(Versioner)
		if !ok {
			continue
		}
		stored, err := v.MaxVersion(ctx)
		if err != nil {
			logger.Warn("cache tier version seed failed",
				zap.String("tier", tier.Name()),
				zap.Error(err))
			continue
		}
		if stored > t.version.Load() {
			t.version.Store(stored)
		}
	}
	return t
}

// Get consults the tiers in order and returns the first live entry along
// with the name of the tier that held it. Tier outages are logged and
// treated as misses. A hit in an outer tier is written back to every
// faster tier before returning.
func (t *Tiered) Get(ctx context.Context, key string) (models.CacheEntry, string, error) {
	for i, tier := range t.tiers {
		entry, err := tier.Get(ctx, key)
		switch {
		case err == nil:
			t.metrics.CacheHit(tier.Name())
			if i > 0 {
				t.promote(ctx, key, entry, i)
			}
			return entry, tier.Name(), nil
		case errors.Is(err, ErrMiss):
			continue
		default:
			t.logger.Warn("cache tier get failed, treating as miss",
				zap.String("tier", tier.Name()),
				zap.Error(err))
			t.metrics.CacheTierError(tier.Name())
		}
	}
	t.metrics.CacheMiss()
	return models.CacheEntry{}, "", ErrMiss
}

// Put assigns the next version and writes the entry through all tiers:
// synchronously to the first, in the background to the rest. Background
// failures are logged, never surfaced.
func (t *Tiered) Put(ctx context.Context, key string, payload []byte) {
	if len(t.tiers) == 0 {
		return
	}
	entry := models.CacheEntry{
		Fingerprint: key,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
		Version:     t.version.Add(1),
	}

	first := t.tiers[0]
	entry.Tier = first.Name()
	if err := first.Put(ctx, key, entry); err != nil {
		t.logger.Warn("cache tier put failed",
			zap.String("tier", first.Name()),
			zap.Error(err))
		t.metrics.CacheTierError(first.Name())
	}

	for _, tier := range t.tiers[1:] {
		t.putWG.Add(1)
		go func(tier Tier) {
			defer t.putWG.Done()
			wctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
			defer cancel()
			if err := tier.Put(wctx, key, entry); err != nil {
				t.logger.Warn("background cache write failed",
					zap.String("tier", tier.Name()),
					zap.Error(err))
				t.metrics.CacheTierError(tier.Name())
			}
		}(tier)
	}
}

// promote re-populates the tiers faster than hitIdx with an entry found at
// hitIdx, so the next lookup hits the fastest tier. The entry keeps its
// original version. Only the fastest tier is written synchronously; a
// promotion into a shared tier must not add network latency to a hit.
func (t *Tiered) promote(ctx context.Context, key string, entry models.CacheEntry, hitIdx int) {
	if err := t.tiers[0].Put(ctx, key, entry); err != nil {
		t.logger.Warn("cache promotion failed",
			zap.String("tier", t.tiers[0].Name()),
			zap.Error(err))
	}
	for _, tier := range t.tiers[1:hitIdx] {
		t.putWG.Add(1)
		go func(tier Tier) {
			defer t.putWG.Done()
			wctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
			defer cancel()
			if err := tier.Put(wctx, key, entry); err != nil {
				t.logger.Warn("cache promotion failed",
					zap.String("tier", tier.Name()),
					zap.Error(err))
			}
		}(tier)
	}
}

// Stats collects per-tier statistics, skipping tiers that cannot report.
func (t *Tiered) Stats(ctx context.Context) []models.TierStats {
	out := make([]models.TierStats, 0, len(t.tiers))
	for _, tier := range t.tiers {
		s, err := tier.Stats(ctx)
		if err != nil {
			t.logger.Warn("cache tier stats failed",
				zap.String("tier", tier.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out
}

// Close waits for background writes to land and closes every tier.
func (t *Tiered) Close() error {
	t.putWG.Wait()
	var firstErr error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
