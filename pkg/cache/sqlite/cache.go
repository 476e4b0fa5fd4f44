// Package sqlite implements the durable l3 cache tier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/models"
)

const tierName = "l3"

// Tier is the durable cache tier, the source of truth across restarts.
type Tier struct {
	db     *sql.DB
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	tier TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	ttl_seconds INTEGER NOT NULL,
	version INTEGER NOT NULL
);
`

// New opens (or creates) the cache database at dbPath with the given
// default TTL.
func New(dbPath string, ttl time.Duration) (*Tier, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Tier{db: db, ttl: ttl}, nil
}

func (t *Tier) Name() string { return tierName }

// Get retrieves a cached entry. Expired entries report a miss.
func (t *Tier) Get(ctx context.Context, key string) (models.CacheEntry, error) {
	var (
		payload    []byte
		origin     string
		createdAt  time.Time
		ttlSeconds int64
		version    uint64
	)
	err := t.db.QueryRowContext(ctx,
		`SELECT payload, tier, created_at, ttl_seconds, version FROM cache_entries WHERE fingerprint = ?`,
		key,
	).Scan(&payload, &origin, &createdAt, &ttlSeconds, &version)

	if errors.Is(err, sql.ErrNoRows) {
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: cache get: %v", cache.ErrTierUnavailable, err)
	}

	entry := models.CacheEntry{
		Fingerprint: key,
		Payload:     payload,
		Tier:        origin,
		CreatedAt:   createdAt,
		TTL:         time.Duration(ttlSeconds) * time.Second,
		Version:     version,
	}
	if entry.Expired(time.Now().UTC()) {
		t.misses.Add(1)
		return models.CacheEntry{}, cache.ErrMiss
	}
	t.hits.Add(1)
	return entry, nil
}

// Put upserts the entry. An entry with a lower version than the stored one
// is silently dropped so a delayed background write can never overwrite a
// fresher value. An expired stored row never wins: it is replaced
// regardless of version, so a writer with a restarted version counter can
// still refresh the fingerprint.
func (t *Tier) Put(ctx context.Context, key string, entry models.CacheEntry) error {
	ttl := entry.TTL
	if ttl == 0 {
		ttl = t.ttl
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, tier, created_at, ttl_seconds, version)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			tier = excluded.tier,
			created_at = excluded.created_at,
			ttl_seconds = excluded.ttl_seconds,
			version = excluded.version
		 WHERE excluded.version >= cache_entries.version
			OR (julianday('now') - julianday(cache_entries.created_at)) * 86400 > cache_entries.ttl_seconds`,
		key, entry.Payload, entry.Tier, entry.CreatedAt.UTC(), int64(ttl.Seconds()), entry.Version,
	)
	if err != nil {
		return fmt.Errorf("%w: cache put: %v", cache.ErrTierUnavailable, err)
	}
	return nil
}

// MaxVersion reports the highest version stored in the tier. The tiered
// cache seeds its counter from it on startup.
func (t *Tier) MaxVersion(ctx context.Context) (uint64, error) {
	var stored uint64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM cache_entries`).Scan(&stored)
	if err != nil {
		return 0, fmt.Errorf("%w: cache max version: %v", cache.ErrTierUnavailable, err)
	}
	return stored, nil
}

// Stats returns entry count and hit/miss counters.
func (t *Tier) Stats(ctx context.Context) (models.TierStats, error) {
	var count int64
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count); err != nil {
		return models.TierStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.TierStats{
		Tier:    tierName,
		Entries: count,
		Hits:    t.hits.Load(),
		Misses:  t.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired
// entries are removed.
func (t *Tier) Clear(ctx context.Context, expiredOnly bool) error {
	query := `DELETE FROM cache_entries`
	if expiredOnly {
		query = `DELETE FROM cache_entries WHERE (julianday('now') - julianday(created_at)) * 86400 > ttl_seconds`
	}
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (t *Tier) Close() error {
	return t.db.Close()
}
