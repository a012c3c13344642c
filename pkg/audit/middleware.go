package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hazyhaar/pkg/kit"

	"github.com/hazyhaar/horosrand/internal/callctx"
)

// Middleware wraps an Endpoint: measures duration, captures params/result/error,
// and logs asynchronously via the Logger. A nil logger returns next unchanged.
func Middleware(logger Logger, actionName string) func(kit.Endpoint) kit.Endpoint {
	return func(next kit.Endpoint) kit.Endpoint {
		if logger == nil {
			return next
		}
		return func(ctx context.Context, request any) (any, error) {
			start := time.Now()

			resp, err := next(ctx, request)

			entry := fromContext(ctx, actionName, start)
			if params, e := json.Marshal(request); e == nil {
				entry.Parameters = string(params)
			}
			if err != nil {
				entry.Error = err.Error()
				entry.Status = StatusError
			} else {
				entry.Status = StatusSuccess
				if result, e := json.Marshal(resp); e == nil {
					entry.Result = string(result)
				}
			}

			logger.LogAsync(entry)
			return resp, err
		}
	}
}

// HTTP records one trail entry per request handled by next. Responses with a
// status of 400 or above are recorded as errors.
func HTTP(logger Logger, actionName string, next http.HandlerFunc) http.HandlerFunc {
	if logger == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next(sw, r)

		entry := fromContext(r.Context(), actionName, start)
		entry.Parameters = r.URL.RawQuery
		if sw.status >= 400 {
			entry.Status = StatusError
			entry.Error = http.StatusText(sw.status)
		}
		logger.LogAsync(entry)
	}
}

func fromContext(ctx context.Context, action string, start time.Time) *Entry {
	caller, _ := callctx.Caller(ctx)
	return &Entry{
		Action:     action,
		Transport:  callctx.Transport(ctx),
		Caller:     caller,
		RequestID:  callctx.RequestID(ctx),
		DurationMs: time.Since(start).Milliseconds(),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
