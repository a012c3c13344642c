// CLAUDE:SUMMARY Core API struct and HTTP handlers: generate, history, count, integrity, stats, export, evictions, op trail
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/horosrand/internal/db"
	"github.com/hazyhaar/horosrand/internal/export"
	"github.com/hazyhaar/horosrand/internal/history"
	"github.com/hazyhaar/horosrand/internal/rng"
	"github.com/hazyhaar/horosrand/pkg/audit"
	"github.com/hazyhaar/horosrand/pkg/trace"
)

// TrailReader reads back the operation trail.
type TrailReader interface {
	Recent(ctx context.Context, action string, limit int) ([]audit.Entry, error)
}

// TraceSummarizer reports per-statement SQL timings.
type TraceSummarizer interface {
	Summary(ctx context.Context, limit int) ([]trace.QueryStats, error)
}

type API struct {
	svc        *rng.Service
	db         *db.DB
	trail      audit.Logger
	traces     TraceSummarizer
	generateRL *RateLimiter
	logger     *slog.Logger
}

func New(svc *rng.Service, database *db.DB) *API {
	return &API{
		svc:    svc,
		db:     database,
		logger: slog.Default().With("component", "api"),
	}
}

// SetTrail records every HTTP operation in the operation trail.
func (a *API) SetTrail(l audit.Logger) {
	a.trail = l
}

// SetTraces exposes SQL timing summaries at /api/diagnostics/sql.
func (a *API) SetTraces(t TraceSummarizer) {
	a.traces = t
}

// SetGenerateLimit caps POST /api/random per client IP. Zero disables the cap.
func (a *API) SetGenerateLimit(perMinute int) {
	if perMinute <= 0 {
		a.generateRL = nil
		return
	}
	a.generateRL = NewRateLimiter(perMinute, time.Minute)
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	generate := http.HandlerFunc(a.handleGenerate)
	if a.generateRL != nil {
		generate = RateLimitMiddleware(a.generateRL, generate)
	}

	// Random service
	mux.HandleFunc("POST /api/random", audit.HTTP(a.trail, "generate_random_number", generate))
	mux.HandleFunc("GET /api/random/history", audit.HTTP(a.trail, "get_random_history", a.handleHistory))
	mux.HandleFunc("GET /api/random/history/count", audit.HTTP(a.trail, "get_history_count", a.handleHistoryCount))
	mux.HandleFunc("GET /api/random/integrity", audit.HTTP(a.trail, "verify_sequence_integrity", a.handleVerifyIntegrity))

	// Diagnostics
	mux.HandleFunc("GET /api/random/stats", a.handleStats)
	mux.HandleFunc("GET /api/random/history/export", audit.HTTP(a.trail, "export_history", a.handleExport))
	mux.HandleFunc("GET /api/random/evictions", a.handleEvictions)
	mux.HandleFunc("GET /api/audit", a.handleTrail)
	mux.HandleFunc("GET /api/diagnostics/sql", a.handleSQLTraces)

	a.RegisterIntegrityRoutes(mux)
}

type generateResponse struct {
	Value uint64 `json:"value,string"`
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	value, err := a.svc.Generate(r.Context())
	if err != nil {
		a.generateError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, generateResponse{Value: value})
}

func (a *API) generateError(w http.ResponseWriter, err error) {
	var srcErr *rng.SourceUnavailableError
	switch {
	case errors.Is(err, rng.ErrInsufficientEntropy):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &srcErr):
		a.logger.Error("randomness source failed", "error", srcErr.Err)
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		a.logger.Error("generate failed", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// handleHistory returns the history newest first. ?limit=N keeps the N newest.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := a.svc.History()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	jsonResp(w, http.StatusOK, historyResponse{Entries: entries, Count: len(entries)})
}

func (a *API) handleHistoryCount(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]int{"count": a.svc.HistoryCount()})
}

func (a *API) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, a.svc.VerifyIntegrity())
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, a.svc.Stats())
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("raw") == "1"
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="horosrand-history.jsonl"`)
	if _, err := export.NewExporter(a.svc).WriteJSONL(w, raw); err != nil {
		a.logger.Error("history export failed", "error", err)
		if errors.Is(err, export.ErrNoSalt) {
			jsonError(w, "export unavailable", http.StatusInternalServerError)
		}
	}
}

func (a *API) handleEvictions(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		jsonError(w, "diagnostics store disabled", http.StatusNotFound)
		return
	}
	recs, err := a.db.ListEvictions(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		a.logger.Error("listing evictions", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	summary, err := a.db.SummarizeEvictions(r.Context())
	if err != nil {
		a.logger.Error("summarizing evictions", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, map[string]any{"evictions": recs, "summary": summary})
}

func (a *API) handleTrail(w http.ResponseWriter, r *http.Request) {
	reader, ok := a.trail.(TrailReader)
	if !ok {
		jsonError(w, "operation trail disabled", http.StatusNotFound)
		return
	}
	entries, err := reader.Recent(r.Context(), r.URL.Query().Get("action"), queryInt(r, "limit", 50))
	if err != nil {
		a.logger.Error("reading op trail", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	jsonResp(w, http.StatusOK, entries)
}

func (a *API) handleSQLTraces(w http.ResponseWriter, r *http.Request) {
	if a.traces == nil {
		jsonError(w, "sql tracing disabled", http.StatusNotFound)
		return
	}
	stats, err := a.traces.Summary(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		a.logger.Error("summarizing sql traces", "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResp(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func jsonResp(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
