// Package trace records SQL statement timings of the diagnostics database.
// Every statement is logged through slog; the records are persisted in
// batches to the sql_traces table and summarised per statement.
//
// Usage:
//
//	store := trace.NewStore(db)
//	store.Init()
//	defer store.Close()
//	database.SetTracer(store)
package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/horosrand/internal/callctx"
	"github.com/hazyhaar/horosrand/pkg/batch"
)

const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	op TEXT NOT NULL,
	query TEXT NOT NULL,
	duration_us INTEGER NOT NULL,
	error TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_tid ON sql_traces(trace_id) WHERE trace_id != '';
`

// Record is one traced statement.
type Record struct {
	TraceID    string
	Op         string // "Exec" or "Query"
	Query      string
	DurationUs int64
	Error      string
	Timestamp  int64 // unix microseconds
}

// QueryStats aggregates the persisted records of one statement.
type QueryStats struct {
	Op       string  `json:"op"`
	Query    string  `json:"query"`
	Calls    int     `json:"calls"`
	Errors   int     `json:"errors"`
	AvgUs    float64 `json:"avg_us"`
	MaxUs    int64   `json:"max_us"`
	LastSeen int64   `json:"last_seen_us"`
}

// Store implements the database tracer hook.
type Store struct {
	db *sql.DB
	w  *batch.Writer[Record]

	// SlowThreshold promotes a statement to warn level.
	SlowThreshold time.Duration
}

func NewStore(db *sql.DB) *Store {
	s := &Store{db: db, SlowThreshold: 100 * time.Millisecond}
	s.w = batch.New(s.persist, batch.Options{Buffer: 1024, MaxBatch: 64, Interval: time.Second})
	return s
}

func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Record logs a statement and queues it for persistence. The request id
// carried by ctx becomes the trace id.
func (s *Store) Record(ctx context.Context, op, query string, d time.Duration, err error) {
	rec := Record{
		TraceID:    callctx.RequestID(ctx),
		Op:         op,
		Query:      query,
		DurationUs: d.Microseconds(),
		Timestamp:  time.Now().UnixMicro(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	slog.LogAttrs(ctx, s.level(d, err), "SQL", rec.attrs(d)...)
	s.w.Offer(rec)
}

func (s *Store) level(d time.Duration, err error) slog.Level {
	switch {
	case err != nil:
		return slog.LevelError
	case d > s.SlowThreshold:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

func (r Record) attrs(d time.Duration) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("component", "sql"),
		slog.String("op", r.Op),
		slog.String("query", r.Query),
		slog.Duration("duration", d),
	}
	if r.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", r.TraceID))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	return attrs
}

// Dropped is the number of records lost to a full buffer.
func (s *Store) Dropped() uint64 {
	return s.w.Dropped()
}

// Close flushes pending records.
func (s *Store) Close() error {
	s.w.Close()
	return nil
}

// Summary groups persisted records by statement, slowest average first.
func (s *Store) Summary(ctx context.Context, limit int) ([]QueryStats, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT op, query, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END),
			AVG(duration_us), MAX(duration_us), MAX(timestamp)
		FROM sql_traces GROUP BY op, query ORDER BY AVG(duration_us) DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("summarizing sql traces: %w", err)
	}
	defer rows.Close()

	out := []QueryStats{}
	for rows.Next() {
		var q QueryStats
		if err := rows.Scan(&q.Op, &q.Query, &q.Calls, &q.Errors, &q.AvgUs, &q.MaxUs, &q.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning sql trace summary: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) persist(records []Record) {
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace store: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(`INSERT INTO sql_traces (trace_id, op, query, duration_us, error, timestamp) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		slog.Error("trace store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(r.TraceID, r.Op, r.Query, r.DurationUs, r.Error, r.Timestamp); err != nil {
			slog.Error("trace store: insert", "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace store: commit", "error", err)
	}
}
