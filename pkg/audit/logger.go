// CLAUDE:SUMMARY Operation trail: SQLite writer for op_audit on a batch.Writer, plus read-back for diagnostics
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/horosrand/pkg/batch"
)

const Schema = `
CREATE TABLE IF NOT EXISTS op_audit (
	entry_id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	transport TEXT NOT NULL DEFAULT 'http',
	caller TEXT,
	request_id TEXT,
	parameters TEXT,
	result TEXT,
	error_message TEXT,
	duration_ms INTEGER,
	status TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_op_audit_time ON op_audit(timestamp);
CREATE INDEX IF NOT EXISTS idx_op_audit_action ON op_audit(action);
`

// SQLiteLogger writes trail entries to the op_audit table. LogAsync never
// blocks the operation being recorded.
type SQLiteLogger struct {
	db *sql.DB
	w  *batch.Writer[*Entry]
}

func NewSQLiteLogger(sqlDB *sql.DB) *SQLiteLogger {
	l := &SQLiteLogger{db: sqlDB}
	l.w = batch.New(l.persist, batch.Options{Buffer: 256, MaxBatch: 32, Interval: 500 * time.Millisecond})
	return l
}

func (l *SQLiteLogger) Init() error {
	_, err := l.db.Exec(Schema)
	return err
}

// Log writes entry synchronously.
func (l *SQLiteLogger) Log(_ context.Context, entry *Entry) error {
	entry.normalize(time.Now())
	return l.insert(entry)
}

func (l *SQLiteLogger) LogAsync(entry *Entry) {
	entry.normalize(time.Now())
	if !l.w.Offer(entry) {
		slog.Warn("op audit buffer full, dropping entry", "action", entry.Action, "dropped_total", l.w.Dropped())
	}
}

func (l *SQLiteLogger) Close() error {
	l.w.Close()
	return nil
}

// Recent returns the latest entries, newest first, optionally filtered by action.
func (l *SQLiteLogger) Recent(ctx context.Context, action string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT entry_id, timestamp, action, transport, COALESCE(caller,''), COALESCE(request_id,''),
		COALESCE(parameters,''), COALESCE(result,''), COALESCE(error_message,''), COALESCE(duration_ms,0), status
		FROM op_audit`
	args := []any{}
	if action != "" {
		q += ` WHERE action = ?`
		args = append(args, action)
	}
	q += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying op audit: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Transport, &e.Caller, &e.RequestID,
			&e.Parameters, &e.Result, &e.Error, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("scanning op audit: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLogger) persist(entries []*Entry) {
	for _, e := range entries {
		if err := l.insert(e); err != nil {
			slog.Error("op audit write failed", "error", err, "action", e.Action, "entry_id", e.EntryID)
		}
	}
}

func (l *SQLiteLogger) insert(e *Entry) error {
	_, err := l.db.Exec(`
		INSERT INTO op_audit (entry_id, timestamp, action, transport, caller, request_id,
			parameters, result, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp, e.Action, e.Transport, e.Caller, e.RequestID,
		e.Parameters, e.Result, e.Error, e.DurationMs, e.Status)
	return err
}
