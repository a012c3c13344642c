// Package rng generates random numbers and records each one in the bounded
// history log.
//
// Generate awaits the randomness source first, outside any lock. Sequence
// allocation and the log append then happen together in commit, under the
// service mutex, so storage order always matches allocation order. Eviction
// hooks run after the mutex is released. Anything that goes wrong in commit
// is reported as ErrAuditWriteDegraded in the logs and the value is still
// returned.
package rng

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/horosrand/internal/entropy"
	"github.com/hazyhaar/horosrand/internal/history"
)

// Option configures a Service.
type Option func(*Service)

// WithExecutionContext replaces the default HostContext.
func WithExecutionContext(env ExecutionContext) Option {
	return func(s *Service) {
		if env != nil {
			s.env = env
		}
	}
}

// WithLog replaces the default log (capacity history.MaxEntries).
func WithLog(l *history.Log) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service owns the sequence counter and the history log.
type Service struct {
	source entropy.Source
	env    ExecutionContext
	seq    history.Allocator
	log    *history.Log
	logger *slog.Logger

	// mu pairs allocation with append.
	mu sync.Mutex
}

// New creates a service drawing bytes from source.
func New(source entropy.Source, opts ...Option) *Service {
	s := &Service{
		source: source,
		env:    HostContext{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = history.NewLog(history.MaxEntries, history.WithLogger(s.logger))
	}
	s.logger = s.logger.With("component", "rng")
	return s
}

// Generate returns the big-endian uint64 of the first 8 source bytes and
// records it in the history log.
func (s *Service) Generate(ctx context.Context) (uint64, error) {
	raw, err := s.source.RawBytes(ctx)
	if err != nil {
		return 0, &SourceUnavailableError{Err: err}
	}
	if len(raw) < 8 {
		return 0, ErrInsufficientEntropy
	}
	value := binary.BigEndian.Uint64(raw[:8])

	outcome := s.commit(ctx, value)
	if outcome.eviction != nil {
		s.notify(*outcome.eviction)
	}
	outcome.report(s.logger)
	return value, nil
}

// auditOutcome is the result of the audit path. Generate logs it and drops it.
type auditOutcome struct {
	seq      uint64
	err      error
	eviction *history.Eviction
}

func (o auditOutcome) report(logger *slog.Logger) {
	if o.err == nil {
		return
	}
	logger.Warn("random value returned with degraded audit",
		"sequence_id", o.seq,
		"error", o.err,
	)
}

// commit allocates a sequence id and appends the entry. Nothing in here
// suspends, and no failure escapes.
func (s *Service) commit(ctx context.Context, value uint64) (out auditOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("%w: %v", ErrAuditWriteDegraded, r)
		}
	}()

	out.seq = s.seq.Next()

	meta := s.env.Metadata()
	entry := history.Entry{
		Value:      value,
		Timestamp:  s.env.Now().UnixNano(),
		SequenceID: out.seq,
		CallContext: history.CallContext{
			ExecutionRound: meta.ExecutionRound,
			Version:        meta.Version,
			ResourceCost:   meta.ResourceCost,
		},
	}

	caller, ok, err := s.env.Caller(ctx)
	if err != nil {
		out.err = fmt.Errorf("%w: resolve caller: %w", ErrAuditWriteDegraded, err)
	} else if ok {
		entry.CallContext.Caller = &caller
	}

	if ev, ok := s.log.Insert(entry); ok {
		out.eviction = &ev
	}
	return out
}

// notify runs the eviction hook outside the service mutex. A panicking hook
// is logged and does not reach the caller.
func (s *Service) notify(ev history.Eviction) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("eviction hook failed",
				"min_seq", ev.MinSeq,
				"max_seq", ev.MaxSeq,
				"error", fmt.Errorf("%w: %v", ErrAuditWriteDegraded, r),
			)
		}
	}()
	s.log.Notify(ev)
}

// History returns all retained entries, newest first.
func (s *Service) History() []history.Entry {
	return s.log.Snapshot()
}

// HistoryCount returns the number of retained entries.
func (s *Service) HistoryCount() int {
	return s.log.Len()
}

// VerifyIntegrity checks the retained entries for sequence gaps.
func (s *Service) VerifyIntegrity() history.IntegrityStatus {
	return history.Verify(s.log.Snapshot())
}

// Stats summarises the retained values.
func (s *Service) Stats() history.Stats {
	return history.Summarize(s.log.Snapshot())
}

// LastSequence returns the last allocated sequence id.
func (s *Service) LastSequence() uint64 {
	return s.seq.Current()
}
