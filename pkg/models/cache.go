package models

import "time"

// CacheEntry stores one cached prediction payload in a cache tier.
type CacheEntry struct {
	Fingerprint string        `json:"fingerprint"`
	Payload     []byte        `json:"payload"`
	// Tier names the tier the entry was originally written from.
	Tier      string        `json:"tier"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	// Version is a monotonic counter assigned at write time. A tier must
	// never let an entry with a lower version replace one with a higher
	// version for the same fingerprint.
	Version uint64 `json:"version"`
}

// Expired reports whether the entry's TTL has elapsed relative to now.
func (e CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// TierStats reports hit/miss counts for a single cache tier.
type TierStats struct {
	Tier    string `json:"tier"`
	Entries int64  `json:"entries"`
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Errors  int64  `json:"errors"`
}
