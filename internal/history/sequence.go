package history

import "sync/atomic"

// Allocator issues strictly increasing sequence ids starting at 1.
// The zero value is ready to use and safe for concurrent callers.
type Allocator struct {
	last atomic.Uint64
}

// Next returns the next sequence id.
func (a *Allocator) Next() uint64 {
	return a.last.Add(1)
}

// Current returns the last issued id, 0 before the first call to Next.
func (a *Allocator) Current() uint64 {
	return a.last.Load()
}
