// Package callctx carries per-call identity through a context: the caller,
// the request id and the transport the call arrived on.
package callctx

import "context"

type ctxKey int

const (
	callerKey ctxKey = iota
	requestIDKey
	transportKey
)

// Transport names.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

// WithCaller attaches a caller identity. An empty caller is ignored.
func WithCaller(ctx context.Context, caller string) context.Context {
	if caller == "" {
		return ctx
	}
	return context.WithValue(ctx, callerKey, caller)
}

// Caller returns the caller identity, if any.
func Caller(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(callerKey).(string)
	return c, ok && c != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// Transport returns the transport name, defaulting to TransportHTTP.
func Transport(ctx context.Context) string {
	if t, ok := ctx.Value(transportKey).(string); ok && t != "" {
		return t
	}
	return TransportHTTP
}
