package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/predyx-ai/predyx/pkg/cache"
	"github.com/predyx-ai/predyx/pkg/models"
)

func newTestTier(t *testing.T, ttl time.Duration) *Tier {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	tier, err := New(dbPath, ttl)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tier.Close() })
	return tier
}

func entry(fp string, payload string, version uint64) models.CacheEntry {
	return models.CacheEntry{
		Fingerprint: fp,
		Payload:     []byte(payload),
		Tier:        "l3",
		CreatedAt:   time.Now().UTC(),
		Version:     version,
	}
}

func TestPutAndGet(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	if err := tier.Put(ctx, "fp1", entry("fp1", `{"value":4.2}`, 1)); err != nil {
		t.Fatal(err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != `{"value":4.2}` {
		t.Errorf("unexpected payload: %s", got.Payload)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}

	_, err = tier.Get(ctx, "fp2")
	if !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected ErrMiss for unknown key, got %v", err)
	}
}

func TestTTLExpiration(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	e := entry("fp1", "data", 1)
	e.TTL = time.Millisecond
	if err := tier.Put(ctx, "fp1", e); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := tier.Get(ctx, "fp1"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("expected miss after TTL expiration, got %v", err)
	}
}

func TestStaleVersionDropped(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	if err := tier.Put(ctx, "fp1", entry("fp1", "new", 5)); err != nil {
		t.Fatal(err)
	}
	// A delayed write with an older version must not land.
	if err := tier.Put(ctx, "fp1", entry("fp1", "old", 3)); err != nil {
		t.Fatal(err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Payload) != "new" {
		t.Errorf("stale write overwrote newer entry: %s", got.Payload)
	}
	if got.Version != 5 {
		t.Errorf("expected version 5, got %d", got.Version)
	}
}

func TestExpiredRowReplacedByLowerVersion(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	stale := entry("fp1", "stale", 5)
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	stale.TTL = time.Second
	if err := tier.Put(ctx, "fp1", stale); err != nil {
		t.Fatal(err)
	}

	// A writer with a restarted version counter must still be able to
	// refresh a fingerprint whose stored row has expired.
	if err := tier.Put(ctx, "fp1", entry("fp1", "fresh", 1)); err != nil {
		t.Fatal(err)
	}

	got, err := tier.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("expected hit on refreshed entry, got %v", err)
	}
	if string(got.Payload) != "fresh" {
		t.Errorf("expired row survived the refresh: %s", got.Payload)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}

func TestMaxVersion(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	max, err := tier.MaxVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if max != 0 {
		t.Errorf("expected 0 for empty tier, got %d", max)
	}

	_ = tier.Put(ctx, "fp1", entry("fp1", "a", 3))
	_ = tier.Put(ctx, "fp2", entry("fp2", "b", 7))

	max, err = tier.MaxVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if max != 7 {
		t.Errorf("expected 7, got %d", max)
	}
}

func TestVersionCounterSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	ctx := context.Background()

	first, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	stale := entry("fp1", "stale", 5)
	stale.CreatedAt = time.Now().UTC().Add(-time.Hour)
	stale.TTL = time.Second
	if err := first.Put(ctx, "fp1", stale); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(dbPath, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tiered := cache.NewTiered([]cache.Tier{reopened}, nil, nil)
	t.Cleanup(func() { _ = tiered.Close() })

	tiered.Put(ctx, "fp1", []byte("fresh"))

	got, _, err := tiered.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("expected hit after restart write, got %v", err)
	}
	if string(got.Payload) != "fresh" {
		t.Errorf("write after restart was dropped: %s", got.Payload)
	}
	if got.Version <= 5 {
		t.Errorf("expected version above 5 after reseed, got %d", got.Version)
	}
}

func TestClear(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	_ = tier.Put(ctx, "fp1", entry("fp1", "a", 1))
	_ = tier.Put(ctx, "fp2", entry("fp2", "b", 2))

	if err := tier.Clear(ctx, false); err != nil {
		t.Fatal(err)
	}

	stats, err := tier.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries after clear, got %d", stats.Entries)
	}
}

func TestStats(t *testing.T) {
	tier := newTestTier(t, time.Hour)
	ctx := context.Background()

	_ = tier.Put(ctx, "fp1", entry("fp1", "a", 1))
	_, _ = tier.Get(ctx, "fp1") // hit
	_, _ = tier.Get(ctx, "fp2") // miss

	stats, err := tier.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
