// CLAUDE:SUMMARY Eviction archive: persists history eviction batches and reads them back for diagnostics
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/horosrand/internal/history"
)

// EvictionRecord is a stored history eviction batch.
type EvictionRecord struct {
	ID        int64     `json:"id"`
	Removed   int       `json:"removed"`
	Remaining int       `json:"remaining"`
	MinSeq    uint64    `json:"min_seq"`
	MaxSeq    uint64    `json:"max_seq"`
	EvictedAt time.Time `json:"evicted_at"`
}

// EvictionSummary aggregates all stored evictions.
type EvictionSummary struct {
	Batches      int    `json:"batches"`
	TotalRemoved int    `json:"total_removed"`
	HighestSeq   uint64 `json:"highest_evicted_seq"`
}

// insertTimeout bounds each queued eviction insert.
const insertTimeout = 5 * time.Second

// RecordEviction queues ev for storage and returns immediately. It satisfies
// history.EvictionHook. A full queue drops the record with a warning.
func (db *DB) RecordEviction(ev history.Eviction) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if !db.evictions.Offer(ev) {
		db.logger.Warn("eviction record dropped",
			"min_seq", ev.MinSeq,
			"max_seq", ev.MaxSeq,
			"dropped_total", db.evictions.Dropped(),
		)
	}
}

func (db *DB) persistEvictions(evs []history.Eviction) {
	for _, ev := range evs {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := db.InsertEviction(ctx, ev)
		cancel()
		if err != nil {
			db.logger.Error("recording eviction", "error", err, "min_seq", ev.MinSeq, "max_seq", ev.MaxSeq)
		}
	}
}

func (db *DB) InsertEviction(ctx context.Context, ev history.Eviction) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.exec(ctx, `INSERT INTO evictions (removed, remaining, min_seq, max_seq, evicted_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Removed, ev.Remaining, int64(ev.MinSeq), int64(ev.MaxSeq), at.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting eviction: %w", err)
	}
	return nil
}

// ListEvictions returns the most recent evictions first.
func (db *DB) ListEvictions(ctx context.Context, limit int) ([]EvictionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.query(ctx, `SELECT id, removed, remaining, min_seq, max_seq, evicted_at
		FROM evictions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing evictions: %w", err)
	}
	defer rows.Close()

	out := []EvictionRecord{}
	for rows.Next() {
		var r EvictionRecord
		var minSeq, maxSeq, at int64
		if err := rows.Scan(&r.ID, &r.Removed, &r.Remaining, &minSeq, &maxSeq, &at); err != nil {
			return nil, fmt.Errorf("scanning eviction: %w", err)
		}
		r.MinSeq, r.MaxSeq = uint64(minSeq), uint64(maxSeq)
		r.EvictedAt = time.Unix(0, at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) SummarizeEvictions(ctx context.Context) (EvictionSummary, error) {
	var s EvictionSummary
	var highest int64
	rows, err := db.query(ctx, `SELECT COUNT(*), COALESCE(SUM(removed), 0), COALESCE(MAX(max_seq), 0) FROM evictions`)
	if err != nil {
		return s, fmt.Errorf("summarizing evictions: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&s.Batches, &s.TotalRemoved, &highest); err != nil {
			return s, fmt.Errorf("scanning eviction summary: %w", err)
		}
	}
	s.HighestSeq = uint64(highest)
	return s, rows.Err()
}
