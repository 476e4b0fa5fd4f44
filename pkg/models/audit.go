package models

import "time"

// AuditRecord is an immutable record of one gateway transaction.
type AuditRecord struct {
	RequestID   string    `json:"request_id"`
	Fingerprint string    `json:"fingerprint"`
	QueryType   string    `json:"query_type"`
	// CacheTier is the tier that served the result ("l1", "l2", "l3"),
	// or "miss" when the request went to a backend.
	CacheTier   string    `json:"cache_tier"`
	Backend     string    `json:"backend,omitempty"`
	RouteReason string    `json:"route_reason,omitempty"`
	Verdict     Verdict   `json:"verdict,omitempty"`
	Confidence  float64   `json:"confidence"`
	Anomaly     bool      `json:"anomaly"`
	Severity    Severity  `json:"severity,omitempty"`
	// Outcome is "success" or the error kind that ended the transaction
	// (e.g. "all_backends_exhausted", "invalid_request").
	Outcome   string    `json:"outcome"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditConfig controls the audit recording subsystem.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
	// BufferSize bounds the in-memory queue between the request path and
	// the writer goroutine. Records are dropped (and logged) on overflow.
	BufferSize int `yaml:"buffer_size"`
}

// AuditQueryOpts specifies filters for querying audit records.
type AuditQueryOpts struct {
	QueryType   string
	Backend     string
	Fingerprint string
	RequestID   string
	Outcome     string
	Since       time.Time
	Limit       int
}

// AuditStat holds aggregate audit counts for a query-type/day combination.
type AuditStat struct {
	QueryType string
	Day       string
	Count     int
	Hits      int
}
