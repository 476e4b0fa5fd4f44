// Package audit persists one record per gateway transaction for
// observability. Recording is fire-and-forget: a full queue or a failed
// write is logged and never surfaces to the request path.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/predyx-ai/predyx/pkg/models"
)

// Recorder writes and queries audit records in a dedicated SQLite database.
type Recorder struct {
	db     *sql.DB
	cfg    models.AuditConfig
	logger *zap.Logger
	queue  chan models.AuditRecord
	done   chan struct{}
	wg     sync.WaitGroup
}

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_log (
	request_id   TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	query_type   TEXT NOT NULL,
	cache_tier   TEXT NOT NULL,
	backend      TEXT,
	route_reason TEXT,
	verdict      TEXT,
	confidence   REAL,
	anomaly      INTEGER,
	severity     TEXT,
	outcome      TEXT NOT NULL,
	latency_ms   INTEGER,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_fingerprint ON audit_log(fingerprint);
CREATE INDEX IF NOT EXISTS idx_audit_query_type ON audit_log(query_type);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
`

// New opens the audit database and starts the writer and retention
// goroutines.
func New(cfg models.AuditConfig, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := db.Exec(createAuditTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}

	r := &Recorder{
		db:     db,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan models.AuditRecord, buffer),
		done:   make(chan struct{}),
	}

	r.wg.Add(2)
	go r.writeLoop()
	go r.retentionLoop()
	return r, nil
}

// Record enqueues a record without blocking. On overflow the record is
// dropped and the drop is logged.
func (r *Recorder) Record(rec models.AuditRecord) {
	if r == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("audit queue full, dropping record",
			zap.String("request_id", rec.RequestID))
	}
}

// writeLoop drains the queue until done is closed, then flushes whatever
// is still buffered. The queue itself is never closed so a Record racing
// Close can at worst enqueue a record that is dropped with the flush.
func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec models.AuditRecord) {
	if err := r.insert(context.Background(), rec); err != nil {
		r.logger.Warn("audit write failed",
			zap.String("request_id", rec.RequestID),
			zap.Error(err))
	}
}

func (r *Recorder) insert(ctx context.Context, rec models.AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_log
		(request_id, fingerprint, query_type, cache_tier, backend, route_reason,
		 verdict, confidence, anomaly, severity, outcome, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Fingerprint, rec.QueryType, rec.CacheTier,
		rec.Backend, rec.RouteReason,
		string(rec.Verdict), rec.Confidence, rec.Anomaly, string(rec.Severity),
		rec.Outcome, rec.LatencyMs, rec.CreatedAt,
	)
	return err
}

// Query returns audit records matching the given options, newest first.
func (r *Recorder) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditRecord, error) {
	q := `SELECT request_id, fingerprint, query_type, cache_tier, backend, route_reason,
		verdict, confidence, anomaly, severity, outcome, latency_ms, created_at
		FROM audit_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Fingerprint != "" {
		q += " AND fingerprint = ?"
		args = append(args, opts.Fingerprint)
	}
	if opts.QueryType != "" {
		q += " AND query_type = ?"
		args = append(args, opts.QueryType)
	}
	if opts.Backend != "" {
		q += " AND backend = ?"
		args = append(args, opts.Backend)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var records []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var backend, reason, verdict, severity sql.NullString
		if err := rows.Scan(
			&rec.RequestID, &rec.Fingerprint, &rec.QueryType, &rec.CacheTier,
			&backend, &reason, &verdict, &rec.Confidence, &rec.Anomaly, &severity,
			&rec.Outcome, &rec.LatencyMs, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		rec.Backend = backend.String
		rec.RouteReason = reason.String
		rec.Verdict = models.Verdict(verdict.String)
		rec.Severity = models.Severity(severity.String)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats returns transaction counts grouped by query type and day, with
// the share that was served from cache.
func (r *Recorder) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT query_type, date(created_at) AS day, count(*) AS cnt,
			sum(CASE WHEN cache_tier != 'miss' THEN 1 ELSE 0 END) AS hits
		 FROM audit_log GROUP BY query_type, day ORDER BY day DESC, query_type`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var day sql.NullString
		if err := rows.Scan(&s.QueryType, &day, &s.Count, &s.Hits); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (r *Recorder) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -r.cfg.RetentionDays)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close drains the queue, stops the background goroutines and closes the
// database.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	return r.db.Close()
}

func (r *Recorder) retentionLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			_, _ = r.Cleanup(context.Background())
		}
	}
}
