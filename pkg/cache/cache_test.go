package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/predyx-ai/predyx/pkg/models"
)

// fakeTier is an in-memory Tier that can be switched into an outage.
type fakeTier struct {
	name string

	mu      sync.Mutex
	entries map[string]models.CacheEntry
	down    bool
	puts    int
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{name: name, entries: make(map[string]models.CacheEntry)}
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Get(_ context.Context, key string) (models.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return models.CacheEntry{}, ErrTierUnavailable
	}
	entry, ok := f.entries[key]
	if !ok {
		return models.CacheEntry{}, ErrMiss
	}
	return entry, nil
}

func (f *fakeTier) Put(_ context.Context, key string, entry models.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return ErrTierUnavailable
	}
	f.puts++
	f.entries[key] = entry
	return nil
}

func (f *fakeTier) Stats(_ context.Context) (models.TierStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.TierStats{Tier: f.name, Entries: int64(len(f.entries))}, nil
}

func (f *fakeTier) Close() error { return nil }

func (f *fakeTier) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[key]
	return ok
}

func newTestTiered(t *testing.T) (*Tiered, *fakeTier, *fakeTier, *fakeTier) {
	t.Helper()
	l1, l2, l3 := newFakeTier("l1"), newFakeTier("l2"), newFakeTier("l3")
	tiered := NewTiered([]Tier{l1, l2, l3}, zap.NewNop(), nil)
	return tiered, l1, l2, l3
}

func TestGetMissEverywhere(t *testing.T) {
	tiered, _, _, _ := newTestTiered(t)
	_, _, err := tiered.Get(context.Background(), "fp1")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestPutWritesAllTiers(t *testing.T) {
	tiered, l1, l2, l3 := newTestTiered(t)
	tiered.Put(context.Background(), "fp1", []byte("payload"))
	// Background writes must have landed once Close returns.
	if err := tiered.Close(); err != nil {
		t.Fatal(err)
	}

	for _, tier := range []*fakeTier{l1, l2, l3} {
		if !tier.has("fp1") {
			t.Errorf("tier %s missing entry after write-through", tier.name)
		}
	}
}

func TestVersionIncreases(t *testing.T) {
	tiered, l1, _, _ := newTestTiered(t)
	ctx := context.Background()

	tiered.Put(ctx, "fp1", []byte("a"))
	tiered.Put(ctx, "fp1", []byte("b"))
	_ = tiered.Close()

	entry, err := l1.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Version != 2 {
		t.Errorf("expected version 2 after second write, got %d", entry.Version)
	}
}

func TestOuterHitPromotesToL1(t *testing.T) {
	tiered, l1, l2, l3 := newTestTiered(t)
	ctx := context.Background()

	seed := models.CacheEntry{Fingerprint: "fp1", Payload: []byte("deep"), Tier: "l3", Version: 9}
	if err := l3.Put(ctx, "fp1", seed); err != nil {
		t.Fatal(err)
	}

	entry, tierName, err := tiered.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if tierName != "l3" {
		t.Errorf("expected hit in l3, got %s", tierName)
	}
	if string(entry.Payload) != "deep" {
		t.Errorf("unexpected payload: %s", entry.Payload)
	}
	if !l1.has("fp1") {
		t.Error("outer-tier hit was not promoted into l1")
	}

	// Promotion keeps the original version.
	promoted, _ := l1.Get(ctx, "fp1")
	if promoted.Version != 9 {
		t.Errorf("promotion changed version: %d", promoted.Version)
	}

	// The next lookup hits l1 directly.
	_, tierName, err = tiered.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if tierName != "l1" {
		t.Errorf("expected follow-up hit in l1, got %s", tierName)
	}

	// The background promotion into l2 has landed once Close returns.
	if err := tiered.Close(); err != nil {
		t.Fatal(err)
	}
	if !l2.has("fp1") {
		t.Error("outer-tier hit was not promoted into l2")
	}
}

// versionedTier is a fakeTier that persists versions across "restarts".
type versionedTier struct {
	*fakeTier
	max uint64
}

func (v *versionedTier) MaxVersion(context.Context) (uint64, error) {
	return v.max, nil
}

func TestVersionSeededFromDurableTier(t *testing.T) {
	l1 := newFakeTier("l1")
	l3 := &versionedTier{fakeTier: newFakeTier("l3"), max: 41}
	tiered := NewTiered([]Tier{l1, l3}, zap.NewNop(), nil)
	ctx := context.Background()

	// The first write of a new process must version above anything a
	// previous process left in the durable tier.
	tiered.Put(ctx, "fp1", []byte("fresh"))
	_ = tiered.Close()

	entry, err := l3.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Version != 42 {
		t.Errorf("expected version 42 after reseed, got %d", entry.Version)
	}
}

// gatedTier blocks Put until released, to observe the response path
// completing ahead of a slow outer-tier write.
type gatedTier struct {
	*fakeTier
	release chan struct{}
}

func (g *gatedTier) Put(ctx context.Context, key string, entry models.CacheEntry) error {
	<-g.release
	return g.fakeTier.Put(ctx, key, entry)
}

func TestOuterPromotionDoesNotBlockHit(t *testing.T) {
	l1 := newFakeTier("l1")
	l2 := &gatedTier{fakeTier: newFakeTier("l2"), release: make(chan struct{})}
	l3 := newFakeTier("l3")
	tiered := NewTiered([]Tier{l1, l2, l3}, zap.NewNop(), nil)
	ctx := context.Background()

	seed := models.CacheEntry{Fingerprint: "fp1", Payload: []byte("deep"), Tier: "l3", Version: 1}
	if err := l3.Put(ctx, "fp1", seed); err != nil {
		t.Fatal(err)
	}

	// The hit returns, with l1 populated, while the l2 write is still held.
	_, tierName, err := tiered.Get(ctx, "fp1")
	if err != nil {
		t.Fatal(err)
	}
	if tierName != "l3" {
		t.Errorf("expected hit in l3, got %s", tierName)
	}
	if !l1.has("fp1") {
		t.Error("l1 not populated before outer promotion finished")
	}
	if l2.has("fp1") {
		t.Error("l2 write finished while still gated")
	}

	close(l2.release)
	if err := tiered.Close(); err != nil {
		t.Fatal(err)
	}
	if !l2.has("fp1") {
		t.Error("outer promotion never landed in l2")
	}
}

func TestTierOutageDegradesToMiss(t *testing.T) {
	tiered, l1, l2, l3 := newTestTiered(t)
	ctx := context.Background()

	if err := l3.Put(ctx, "fp1", models.CacheEntry{Payload: []byte("v"), Version: 1}); err != nil {
		t.Fatal(err)
	}
	l1.mu.Lock()
	l1.down = true
	l1.mu.Unlock()
	l2.mu.Lock()
	l2.down = true
	l2.mu.Unlock()

	// l1/l2 outage must not fail the lookup; l3 still answers.
	entry, tierName, err := tiered.Get(ctx, "fp1")
	if err != nil {
		t.Fatalf("tier outage should degrade, not fail: %v", err)
	}
	if tierName != "l3" || string(entry.Payload) != "v" {
		t.Errorf("unexpected result: tier=%s payload=%s", tierName, entry.Payload)
	}
}

func TestPutSurvivesOuterOutage(t *testing.T) {
	tiered, l1, l2, _ := newTestTiered(t)
	ctx := context.Background()

	l2.mu.Lock()
	l2.down = true
	l2.mu.Unlock()

	tiered.Put(ctx, "fp1", []byte("payload"))
	_ = tiered.Close()

	if !l1.has("fp1") {
		t.Error("l1 write should succeed despite l2 outage")
	}
}
