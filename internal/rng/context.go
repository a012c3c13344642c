package rng

import (
	"context"
	"time"

	"github.com/hazyhaar/horosrand/internal/callctx"
)

// CallMetadata is host execution metadata copied into each entry. All
// fields are optional.
type CallMetadata struct {
	ExecutionRound uint64
	Version        uint64
	ResourceCost   uint64
}

// ExecutionContext supplies caller identity, time and host metadata.
// A missing caller is reported as ok == false, not as an error.
type ExecutionContext interface {
	Caller(ctx context.Context) (caller string, ok bool, err error)
	Now() time.Time
	Metadata() CallMetadata
}

// HostContext reads the caller from callctx and time from the wall clock.
type HostContext struct {
	Revision uint64
	Clock    func() time.Time
}

func (h HostContext) Caller(ctx context.Context) (string, bool, error) {
	c, ok := callctx.Caller(ctx)
	return c, ok, nil
}

func (h HostContext) Now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h HostContext) Metadata() CallMetadata {
	return CallMetadata{Version: h.Revision}
}
