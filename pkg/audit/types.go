package audit

import (
	"context"
	"time"

	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/horosrand/internal/callctx"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one service operation in the trail: which tool or route ran, over
// which transport, for whom and with what outcome.
type Entry struct {
	EntryID    string `json:"entry_id"`
	Timestamp  int64  `json:"timestamp"` // unix seconds
	Action     string `json:"action"`
	Transport  string `json:"transport"`
	Caller     string `json:"caller,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Parameters string `json:"parameters,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error_message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`
}

// Logger stores trail entries. LogAsync must not block.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	LogAsync(entry *Entry)
	Close() error
}

// normalize fills the id, time, status and transport left empty by the caller.
func (e *Entry) normalize(now time.Time) {
	if e.EntryID == "" {
		e.EntryID = "op_" + idgen.New()
	}
	if e.Timestamp == 0 {
		e.Timestamp = now.Unix()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
		if e.Error != "" {
			e.Status = StatusError
		}
	}
	if e.Transport == "" {
		e.Transport = callctx.TransportHTTP
	}
}
