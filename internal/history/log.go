package history

import (
	"log/slog"
	"sync"
	"time"
)

// Eviction describes one batch of entries dropped to get back under capacity.
// MinSeq and MaxSeq bound the removed range.
type Eviction struct {
	Removed   int       `json:"removed"`
	Remaining int       `json:"remaining"`
	MinSeq    uint64    `json:"min_seq"`
	MaxSeq    uint64    `json:"max_seq"`
	At        time.Time `json:"at"`
}

// EvictionHook receives every eviction batch after the log lock is released.
// It runs on the appending goroutine and should hand the batch off quickly.
type EvictionHook interface {
	RecordEviction(ev Eviction)
}

// EvictionHookFunc adapts a function to EvictionHook.
type EvictionHookFunc func(ev Eviction)

func (f EvictionHookFunc) RecordEviction(ev Eviction) { f(ev) }

type noopHook struct{}

func (noopHook) RecordEviction(Eviction) {}

// LogOption configures a Log.
type LogOption func(*Log)

// WithEvictionHook sets the hook called after each eviction batch.
func WithEvictionHook(h EvictionHook) LogOption {
	return func(l *Log) {
		if h != nil {
			l.hook = h
		}
	}
}

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Log is an ordered, bounded, append-only store of entries.
// Storage order is append order; entries leave only through eviction.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	hook     EvictionHook
	logger   *slog.Logger
	now      func() time.Time
}

// NewLog creates an empty log holding at most capacity entries.
// A capacity <= 0 selects MaxEntries.
func NewLog(capacity int, opts ...LogOption) *Log {
	if capacity <= 0 {
		capacity = MaxEntries
	}
	l := &Log{
		entries:  make([]Entry, 0, min(capacity, 64)),
		capacity: capacity,
		hook:     noopHook{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "history")
	return l
}

// Append adds e and then hands any resulting eviction to the hook.
func (l *Log) Append(e Entry) {
	if ev, ok := l.Insert(e); ok {
		l.Notify(ev)
	}
}

// Insert adds e at the end of the log and evicts the oldest entries if the
// log went over capacity. The hook is not called; callers that hold their own
// locks pass the returned eviction to Notify once they have released them.
func (l *Log) Insert(e Entry) (Eviction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return l.evictLocked()
}

// Notify logs ev and passes it to the eviction hook.
func (l *Log) Notify(ev Eviction) {
	l.logger.Info("history evicted",
		"removed", ev.Removed,
		"remaining", ev.Remaining,
		"min_seq", ev.MinSeq,
		"max_seq", ev.MaxSeq,
	)
	l.hook.RecordEviction(ev)
}

// evictLocked drops len-capacity entries from the front in one batch.
func (l *Log) evictLocked() (Eviction, bool) {
	over := len(l.entries) - l.capacity
	if over <= 0 {
		return Eviction{}, false
	}
	ev := Eviction{
		Removed: over,
		MinSeq:  l.entries[0].SequenceID,
		MaxSeq:  l.entries[over-1].SequenceID,
		At:      l.now(),
	}
	n := copy(l.entries, l.entries[over:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
	ev.Remaining = n
	return ev, true
}

// Snapshot returns a copy of all entries, most recently appended first.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[len(l.entries)-1-i] = e.clone()
	}
	return out
}

// Len returns the number of entries currently held.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the retention cap.
func (l *Log) Capacity() int {
	return l.capacity
}
