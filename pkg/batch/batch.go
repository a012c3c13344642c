// Package batch buffers records in memory and hands them to a flush function
// in batches, from a single background goroutine. Producers never block: when
// the buffer is full the record is dropped and counted.
package batch

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlushFunc persists one batch. It owns error reporting.
type FlushFunc[T any] func(batch []T)

// Options tune a Writer. Zero values select the defaults.
type Options struct {
	Buffer   int           // channel capacity, default 256
	MaxBatch int           // flush when this many records are pending, default 32
	Interval time.Duration // flush pending records at least this often, default 500ms
}

// Writer is an asynchronous batching writer.
type Writer[T any] struct {
	ch      chan T
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	flush   FlushFunc[T]
	max     int
	every   time.Duration
	dropped atomic.Uint64
}

func New[T any](flush FlushFunc[T], opts Options) *Writer[T] {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 32
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	w := &Writer[T]{
		ch:    make(chan T, opts.Buffer),
		done:  make(chan struct{}),
		flush: flush,
		max:   opts.MaxBatch,
		every: opts.Interval,
	}
	go w.loop()
	return w
}

// Offer queues v and reports whether it was accepted. Offers after Close are
// rejected.
func (w *Writer[T]) Offer(v T) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ch <- v:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped is the number of records rejected because the buffer was full.
func (w *Writer[T]) Dropped() uint64 {
	return w.dropped.Load()
}

// Close flushes pending records and stops the loop. It is idempotent.
func (w *Writer[T]) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Writer[T]) loop() {
	defer close(w.done)
	pending := make([]T, 0, w.max)
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	emit := func() {
		if len(pending) == 0 {
			return
		}
		w.flush(pending)
		pending = make([]T, 0, w.max)
	}

	for {
		select {
		case v, ok := <-w.ch:
			if !ok {
				emit()
				return
			}
			pending = append(pending, v)
			if len(pending) >= w.max {
				emit()
			}
		case <-ticker.C:
			emit()
		}
	}
}
