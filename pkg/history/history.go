// Package history stores recently observed prediction values per symbol
// and query type. The validator cross-references new backend results
// against this store.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Observation is one recorded prediction value.
type Observation struct {
	Symbol     string
	QueryType  string
	Value      float64
	ObservedAt time.Time
}

// Source is the read side consumed by the validator.
type Source interface {
	// Recent returns observations for symbol/queryType since the given time,
	// newest first.
	Recent(ctx context.Context, symbol, queryType string, since time.Time) ([]Observation, error)
}

// Store persists observations in SQLite.
type Store struct {
	db   *sql.DB
	done chan struct{}
	wg   sync.WaitGroup
}

const createObservationsTable = `
CREATE TABLE IF NOT EXISTS observations (
	symbol TEXT NOT NULL,
	query_type TEXT NOT NULL,
	value REAL NOT NULL,
	observed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_obs_lookup ON observations(symbol, query_type, observed_at);
`

// New opens the history database and starts the pruning loop.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(createObservationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	s := &Store{db: db, done: make(chan struct{})}
	s.wg.Add(1)
	go s.pruneLoop()
	return s, nil
}

// Record stores one observation.
func (s *Store) Record(ctx context.Context, symbol, queryType string, value float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (symbol, query_type, value, observed_at) VALUES (?, ?, ?, ?)`,
		symbol, queryType, value, at.UTC())
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

// Recent returns observations for symbol/queryType since the given time,
// newest first.
func (s *Store) Recent(ctx context.Context, symbol, queryType string, since time.Time) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, query_type, value, observed_at FROM observations
		 WHERE symbol = ? AND query_type = ? AND observed_at >= ?
		 ORDER BY observed_at DESC LIMIT 100`,
		symbol, queryType, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.Symbol, &o.QueryType, &o.Value, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes observations older than the cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM observations WHERE observed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune observations: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the pruning goroutine and closes the database.
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) pruneLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Prune(context.Background(), time.Now().AddDate(0, 0, -7))
		}
	}
}
