package api

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/horosrand/internal/auth"
	"github.com/hazyhaar/horosrand/internal/db"
	"github.com/hazyhaar/horosrand/internal/entropy"
	"github.com/hazyhaar/horosrand/internal/history"
	"github.com/hazyhaar/horosrand/internal/rng"
	"github.com/hazyhaar/horosrand/pkg/audit"
	"github.com/hazyhaar/horosrand/pkg/trace"
)

type switchSource struct {
	n    atomic.Uint64
	mode atomic.Int32 // 0 ok, 1 short, 2 failing
}

func (s *switchSource) RawBytes(context.Context) ([]byte, error) {
	switch s.mode.Load() {
	case 1:
		return []byte{1, 2, 3}, nil
	case 2:
		return nil, errors.New("upstream timeout")
	}
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b, s.n.Add(1))
	return b, nil
}

type testServer struct {
	src     *switchSource
	svc     *rng.Service
	db      *db.DB
	handler http.Handler
	auth    *auth.Auth
}

func newTestServer(t *testing.T, capacity int) *testServer {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "diag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	src := &switchSource{}
	var s entropy.Source = src
	log := history.NewLog(capacity, history.WithEvictionHook(database))
	svc := rng.New(s, rng.WithLog(log))

	a := New(svc, database)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	au := auth.New("test-secret", 5)
	return &testServer{
		src:     src,
		svc:     svc,
		db:      database,
		auth:    au,
		handler: SecurityHeaders(RequestContext(au.Identify(mux))),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGenerateAndReadBack(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodPost, "/api/random", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, map[string]string{"value": "1"}, decode[map[string]string](t, rec))

	ts.do(t, http.MethodPost, "/api/random", nil)

	rec = ts.do(t, http.MethodGet, "/api/random/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[historyResponse](t, rec)
	require.Len(t, hist.Entries, 2)
	assert.Equal(t, uint64(2), hist.Entries[0].SequenceID)
	assert.Equal(t, uint64(1), hist.Entries[1].SequenceID)

	rec = ts.do(t, http.MethodGet, "/api/random/history?limit=1", nil)
	assert.Len(t, decode[historyResponse](t, rec).Entries, 1)

	rec = ts.do(t, http.MethodGet, "/api/random/history/count", nil)
	assert.Equal(t, map[string]int{"count": 2}, decode[map[string]int](t, rec))

	rec = ts.do(t, http.MethodGet, "/api/random/integrity", nil)
	st := decode[history.IntegrityStatus](t, rec)
	assert.True(t, st.IsValid)
	assert.Equal(t, [2]uint64{1, 2}, st.ExpectedRange)
}

func TestGenerateCapturesBearerCaller(t *testing.T) {
	ts := newTestServer(t, 0)
	token, err := ts.auth.GenerateToken("svc-billing")
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/random", map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	ts.do(t, http.MethodPost, "/api/random", nil)

	hist := ts.svc.History()
	require.Len(t, hist, 2)
	assert.Nil(t, hist[0].CallContext.Caller)
	require.NotNil(t, hist[1].CallContext.Caller)
	assert.Equal(t, "svc-billing", *hist[1].CallContext.Caller)
}

func TestGenerateErrorMapping(t *testing.T) {
	ts := newTestServer(t, 0)

	ts.src.mode.Store(1)
	rec := ts.do(t, http.MethodPost, "/api/random", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, rng.ErrInsufficientEntropy.Error(), decode[map[string]string](t, rec)["error"])

	ts.src.mode.Store(2)
	rec = ts.do(t, http.MethodPost, "/api/random", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "upstream timeout")

	assert.Zero(t, ts.svc.HistoryCount())
	assert.Zero(t, ts.svc.LastSequence())
}

func TestEvictionThroughHTTP(t *testing.T) {
	ts := newTestServer(t, 3)
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/api/random", nil).Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/random/integrity", nil)
	st := decode[history.IntegrityStatus](t, rec)
	assert.True(t, st.IsValid)
	assert.Equal(t, uint64(3), st.TotalEntries)
	assert.Equal(t, [2]uint64{3, 5}, st.ExpectedRange)

	type evictionsBody struct {
		Evictions []db.EvictionRecord `json:"evictions"`
		Summary   db.EvictionSummary  `json:"summary"`
	}
	var body evictionsBody
	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/random/evictions", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		body = decode[evictionsBody](t, rec)
		return len(body.Evictions) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, body.Summary.TotalRemoved)
	assert.Equal(t, uint64(2), body.Summary.HighestSeq)
}

func TestStatsExportAndIntegrity(t *testing.T) {
	ts := newTestServer(t, 0)
	for i := 0; i < 4; i++ {
		ts.do(t, http.MethodPost, "/api/random", nil)
	}

	rec := ts.do(t, http.MethodGet, "/api/random/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[history.Stats](t, rec)
	assert.Equal(t, 4, stats.Count)

	rec = ts.do(t, http.MethodGet, "/api/random/history/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	lines := 0
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 5, lines)

	rec = ts.do(t, http.MethodGet, "/api/integrity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, true, info["sequence_valid"])
	assert.EqualValues(t, 4, info["history_entries"])
	assert.EqualValues(t, 4, info["last_sequence"])
}

func TestRateLimitOnGenerate(t *testing.T) {
	ts := newTestServer(t, 0)
	a := New(ts.svc, ts.db)
	a.SetGenerateLimit(2)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/random", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 2, ts.svc.HistoryCount())
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow("a"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/api/random/history/count", map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestOperationTrail(t *testing.T) {
	ts := newTestServer(t, 0)
	trail := audit.NewSQLiteLogger(ts.db.DB)
	require.NoError(t, trail.Init())

	a := New(ts.svc, ts.db)
	a.SetTrail(trail)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	h := RequestContext(mux)

	for _, path := range []string{"/api/random/history/count", "/api/random/integrity"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.NoError(t, trail.Close())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?action=get_history_count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]audit.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "http", entries[0].Transport)
	assert.True(t, strings.HasPrefix(entries[0].RequestID, "req_"))
}

func TestTrailDisabled(t *testing.T) {
	ts := newTestServer(t, 0)
	rec := ts.do(t, http.MethodGet, "/api/audit", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSQLTraceDiagnostics(t *testing.T) {
	ts := newTestServer(t, 1)
	store := trace.NewStore(ts.db.DB)
	require.NoError(t, store.Init())
	ts.db.SetTracer(store)

	a := New(ts.svc, ts.db)
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/diagnostics/sql", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	a.SetTraces(store)
	mux = http.NewServeMux()
	a.RegisterRoutes(mux)

	// capacity 1: the second generate evicts and writes one row
	ts.svc.Generate(context.Background())
	ts.svc.Generate(context.Background())
	// eviction rows and their traces are both written asynchronously
	require.Eventually(t, func() bool {
		stats, err := store.Summary(context.Background(), 0)
		return err == nil && len(stats) > 0
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, store.Close())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/diagnostics/sql", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[[]trace.QueryStats](t, rec)
	require.NotEmpty(t, stats)
	assert.Equal(t, "Exec", stats[0].Op)
	assert.Contains(t, stats[0].Query, "INSERT INTO evictions")
}
