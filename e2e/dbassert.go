// CLAUDE:SUMMARY Direct SQLite assertion helpers for E2E tests: persistent connection to the diagnostics DB
package e2e

import (
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// DBAssert provides direct SQLite assertions on the diagnostics database.
// It keeps a persistent connection to avoid file descriptor exhaustion.
type DBAssert struct {
	path string

	mu   sync.Mutex
	conn *sql.DB
}

func NewDBAssert(path string) *DBAssert {
	return &DBAssert{path: path}
}

// Close releases the persistent connection.
func (d *DBAssert) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *DBAssert) db(t *testing.T) *sql.DB {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return d.conn
	}
	db, err := sql.Open("sqlite", "file:"+d.path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		t.Fatalf("opening %s: %v", d.path, err)
	}
	db.SetMaxOpenConns(1)
	d.conn = db
	return db
}

// AssertRowCount verifies the exact number of rows matching where.
func (d *DBAssert) AssertRowCount(t *testing.T, table, where string, args []interface{}, expected int) {
	t.Helper()
	if count := d.count(t, table, where, args); count != expected {
		t.Errorf("table %s (where %s): count = %d, want %d", table, where, count, expected)
	}
}

// AwaitRowCountGTE polls until at least threshold rows match. Tables fed by
// async writers (evictions, op_audit, sql_traces) flush on a ticker.
func (d *DBAssert) AwaitRowCountGTE(t *testing.T, table, where string, args []interface{}, threshold int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var count int
	for {
		count = d.count(t, table, where, args)
		if count >= threshold || time.Now().After(deadline) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if count < threshold {
		t.Errorf("table %s (where %s): count = %d, want >= %d after %s", table, where, count, threshold, timeout)
	}
}

// QueryScalarInt runs a single integer query.
func (d *DBAssert) QueryScalarInt(t *testing.T, query string, args ...interface{}) int {
	t.Helper()
	var result int
	if err := d.db(t).QueryRow(query, args...).Scan(&result); err != nil {
		t.Fatalf("scalar int query: %v", err)
	}
	return result
}

func (d *DBAssert) count(t *testing.T, table, where string, args []interface{}) int {
	t.Helper()
	var count int
	if err := d.db(t).QueryRow(countQuery(table, where), args...).Scan(&count); err != nil {
		t.Fatalf("counting %s rows: %v", table, err)
	}
	return count
}

// countQuery builds a COUNT(*) query for a table with optional WHERE clause.
func countQuery(table, where string) string {
	const qCount = `SELECT COUNT(*) FROM %s`
	q := fmt.Sprintf(qCount, table)
	if where != "" {
		q += " WHERE " + where
	}
	return q
}
