// CLAUDE:SUMMARY Diagnostics database: SQLite (modernc) handle, schema migration and traced statement helpers
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosrand/internal/history"
	"github.com/hazyhaar/horosrand/pkg/batch"
)

// Tracer receives the timing of every statement run through DB helpers.
type Tracer interface {
	Record(ctx context.Context, op, query string, d time.Duration, err error)
}

// DB wraps the diagnostics SQLite database. It holds eviction records and
// hosts the operation audit and SQL trace tables; the random history itself
// stays in memory.
type DB struct {
	*sql.DB
	tracer    Tracer
	logger    *slog.Logger
	evictions *batch.Writer[history.Eviction]
}

func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db := &DB{DB: sqlDB, logger: slog.Default().With("component", "db")}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	db.evictions = batch.New(db.persistEvictions, batch.Options{Buffer: 512, MaxBatch: 32, Interval: 200 * time.Millisecond})

	return db, nil
}

// Close flushes queued eviction records and closes the database.
func (db *DB) Close() error {
	if db.evictions != nil {
		db.evictions.Close()
	}
	return db.DB.Close()
}

// SetTracer routes statement timings to t.
func (db *DB) SetTracer(t Tracer) {
	db.tracer = t
}

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := db.ExecContext(ctx, query, args...)
	db.trace(ctx, "Exec", query, start, err)
	return res, err
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	db.trace(ctx, "Query", query, start, err)
	return rows, err
}

func (db *DB) trace(ctx context.Context, op, query string, start time.Time, err error) {
	if db.tracer != nil {
		db.tracer.Record(ctx, op, query, time.Since(start), err)
	}
}
