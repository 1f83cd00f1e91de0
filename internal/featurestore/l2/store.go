// Package l2 implements the durable, time-indexed warm tier (C4):
// rows keyed by (ticker, feature_name, as_of, version), target
// p99 < 100ms. It follows the teacher's database package's connection
// profile conventions (WAL mode, PRAGMA tuning per workload) applied
// to a cache-shaped SQLite database.
package l2

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	fs "github.com/aristath/featurestore/internal/fstypes"
)

// Row is the on-disk shape described in spec.md §6.
type Row struct {
	Ticker       string
	FeatureName  string
	Value        float64
	Absent       bool
	AsOf         time.Time
	CalculatedAt time.Time
	Version      int
	Metadata     map[string]interface{}
}

// Store is the L2 contract the Facade depends on (spec.md §4.4).
type Store interface {
	GetMany(ctx context.Context, keys []fs.FeatureKey) (map[fs.FeatureKey]fs.FeatureValue, error)
	PutMany(ctx context.Context, rows []Row) error
	Scan(ctx context.Context, ticker, featureName string, from, to time.Time, version int) ([]Row, error)
	Invalidate(ctx context.Context, ticker, featureName string, from, to time.Time) (int, error)
}

// SQLiteStore is the production Store, backed by modernc.org/sqlite.
// When the database is unreachable, writes are queued into a bounded
// in-memory retry buffer (spec.md §4.4) instead of failing the
// compute path; oldest entries are dropped on overflow with a counter
// bump the caller can observe via RetryBufferDrops.
type SQLiteStore struct {
	db *sql.DB

	mu          sync.Mutex
	retryBuf    []Row
	retryBufCap int
	drops       int64
	unavailable bool // test/demo hook, see SetUnavailable
}

// Config configures the SQLite connection, mirroring
// internal/database's profile-based PRAGMA tuning for a cache-class
// workload: synchronous(NORMAL), WAL, modest page cache.
type Config struct {
	Path            string
	RetryBufferSize int // spec.md §6 l2_retry_buffer_size, default 10000
}

// Open creates (or attaches to) the SQLite-backed L2 store at
// cfg.Path and ensures the schema exists.
func Open(cfg Config) (*SQLiteStore, error) {
	connStr := cfg.Path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-32000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("l2: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("l2: ping %s: %w", cfg.Path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("l2: apply schema: %w", err)
	}

	bufCap := cfg.RetryBufferSize
	if bufCap <= 0 {
		bufCap = 10_000
	}

	return &SQLiteStore{db: db, retryBufCap: bufCap}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SetUnavailable is a test/demo hook simulating an L2 outage: while
// true, GetMany reports every key as a miss and PutMany routes rows
// into the retry buffer instead of touching the database.
func (s *SQLiteStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

func (s *SQLiteStore) isUnavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

// GetMany performs a single round-trip lookup for the given keys.
func (s *SQLiteStore) GetMany(ctx context.Context, keys []fs.FeatureKey) (map[fs.FeatureKey]fs.FeatureValue, error) {
	out := make(map[fs.FeatureKey]fs.FeatureValue, len(keys))
	if len(keys) == 0 || s.isUnavailable() {
		return out, nil
	}

	// Group by (ticker, feature_name, version) so the IN-clause over
	// as_of stays small; most callers pass keys for one ticker anyway.
	type groupKey struct {
		ticker, name string
		version      int
	}
	groups := make(map[groupKey][]fs.FeatureKey)
	for _, k := range keys {
		gk := groupKey{k.Ticker, k.FeatureName, k.Version}
		groups[gk] = append(groups[gk], k)
	}

	for gk, gkeys := range groups {
		asOfs := make([]interface{}, 0, len(gkeys)+2)
		asOfs = append(asOfs, gk.ticker, gk.name)
		placeholders := ""
		for i, k := range gkeys {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			asOfs = append(asOfs, k.AsOf.UTC().Unix())
		}
		asOfs = append(asOfs, gk.version)

		query := fmt.Sprintf(`
			SELECT as_of, value, is_absent, calculated_at, metadata
			FROM feature_rows
			WHERE ticker = ? AND feature_name = ? AND as_of IN (%s) AND version = ? AND superseded = 0
		`, placeholders)

		rows, err := s.db.QueryContext(ctx, query, asOfs...)
		if err != nil {
			return nil, fmt.Errorf("l2: get_many: %w", err)
		}
		err = func() error {
			defer rows.Close()
			for rows.Next() {
				var asOfUnix, calcUnix int64
				var value float64
				var isAbsent int
				var metaJSON string
				if err := rows.Scan(&asOfUnix, &value, &isAbsent, &calcUnix, &metaJSON); err != nil {
					return fmt.Errorf("l2: scan: %w", err)
				}
				var meta map[string]interface{}
				_ = json.Unmarshal([]byte(metaJSON), &meta)

				key := fs.FeatureKey{
					Ticker:      gk.ticker,
					FeatureName: gk.name,
					AsOf:        time.Unix(asOfUnix, 0).UTC(),
					Version:     gk.version,
				}
				out[key] = fs.FeatureValue{
					Value:        value,
					Absent:       isAbsent != 0,
					CalculatedAt: time.Unix(calcUnix, 0).UTC(),
					SourceTier:   fs.SourceL2,
					Metadata:     meta,
				}
			}
			return rows.Err()
		}()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PutMany upserts rows on the (ticker, feature_name, as_of, version)
// uniqueness constraint. An existing row is overwritten only if the
// new calculated_at is strictly greater (spec.md §4.4); ties are
// broken by leaving the existing row untouched, a deterministic
// choice documented in DESIGN.md.
func (s *SQLiteStore) PutMany(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if s.isUnavailable() {
		s.bufferRows(rows)
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.bufferRows(rows)
		return fmt.Errorf("l2: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feature_rows (ticker, feature_name, value, is_absent, as_of, calculated_at, version, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker, feature_name, as_of, version) DO UPDATE SET
			value = excluded.value,
			is_absent = excluded.is_absent,
			calculated_at = excluded.calculated_at,
			metadata = excluded.metadata,
			superseded = 0
		WHERE excluded.calculated_at > feature_rows.calculated_at
	`)
	if err != nil {
		s.bufferRows(rows)
		return fmt.Errorf("l2: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		metaJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			metaJSON = []byte("{}")
		}
		absent := 0
		if r.Absent {
			absent = 1
		}
		if _, err := stmt.ExecContext(ctx,
			r.Ticker, r.FeatureName, r.Value, absent,
			r.AsOf.UTC().Unix(), r.CalculatedAt.UTC().Unix(), r.Version, string(metaJSON),
		); err != nil {
			s.bufferRows(rows)
			return fmt.Errorf("l2: upsert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.bufferRows(rows)
		return fmt.Errorf("l2: commit: %w", err)
	}
	return nil
}

// Scan returns rows for (ticker, featureName, version) with as_of in
// [from, to], ordered by the primary access index
// (ticker, feature_name, as_of DESC).
func (s *SQLiteStore) Scan(ctx context.Context, ticker, featureName string, from, to time.Time, version int) ([]Row, error) {
	if s.isUnavailable() {
		return nil, &fs.TierUnavailableError{Tier: fs.SourceL2}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT value, is_absent, as_of, calculated_at, version, metadata
		FROM feature_rows
		WHERE ticker = ? AND feature_name = ? AND version = ?
		  AND as_of >= ? AND as_of <= ? AND superseded = 0
		ORDER BY as_of DESC
	`, ticker, featureName, version, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("l2: scan: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var asOfUnix, calcUnix int64
		var isAbsent int
		var metaJSON string
		if err := rows.Scan(&r.Value, &isAbsent, &asOfUnix, &calcUnix, &r.Version, &metaJSON); err != nil {
			return nil, fmt.Errorf("l2: scan row: %w", err)
		}
		r.Ticker = ticker
		r.FeatureName = featureName
		r.Absent = isAbsent != 0
		r.AsOf = time.Unix(asOfUnix, 0).UTC()
		r.CalculatedAt = time.Unix(calcUnix, 0).UTC()
		_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Invalidate marks rows superseded so the next read recomputes them,
// rather than deleting them outright: spec.md §4.7 requires
// recompute-on-next-read, and keeping the superseded row around
// preserves the audit trail until it's overwritten.
func (s *SQLiteStore) Invalidate(ctx context.Context, ticker, featureName string, from, to time.Time) (int, error) {
	if s.isUnavailable() {
		return 0, &fs.TierUnavailableError{Tier: fs.SourceL2}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE feature_rows SET superseded = 1
		WHERE ticker = ? AND feature_name = ? AND as_of >= ? AND as_of <= ?
	`, ticker, featureName, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("l2: invalidate: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) bufferRows(rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if len(s.retryBuf) >= s.retryBufCap {
			// Drop oldest to make room; bounded buffer, see spec.md §4.4.
			s.retryBuf = s.retryBuf[1:]
			s.drops++
		}
		s.retryBuf = append(s.retryBuf, r)
	}
}

// FlushRetryBuffer attempts to write every buffered row; rows that
// still fail (e.g. the outage persists) are re-buffered in order.
// Intended to be called periodically from the background scheduler.
func (s *SQLiteStore) FlushRetryBuffer(ctx context.Context) (flushed int, err error) {
	if s.isUnavailable() {
		return 0, nil
	}
	s.mu.Lock()
	pending := s.retryBuf
	s.retryBuf = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0, nil
	}
	if err := s.PutMany(ctx, pending); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// RetryBufferLen reports how many rows are currently queued.
func (s *SQLiteStore) RetryBufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retryBuf)
}

// RetryBufferDrops reports how many rows were dropped for overflow.
func (s *SQLiteStore) RetryBufferDrops() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}
