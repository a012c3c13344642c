package rng

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/horosrand/internal/callctx"
	"github.com/hazyhaar/horosrand/internal/entropy"
	"github.com/hazyhaar/horosrand/internal/history"
)

// counterSource returns 8 big-endian bytes of an increasing counter followed
// by padding.
func counterSource() (entropy.Source, *atomic.Uint64) {
	var n atomic.Uint64
	return entropy.SourceFunc(func(context.Context) ([]byte, error) {
		b := make([]byte, 32)
		binary.BigEndian.PutUint64(b, n.Add(1)*1000)
		return b, nil
	}), &n
}

func fixedSource(b []byte, err error) entropy.Source {
	return entropy.SourceFunc(func(context.Context) ([]byte, error) { return b, err })
}

type brokenEnv struct{ HostContext }

func (brokenEnv) Caller(context.Context) (string, bool, error) {
	return "", false, errors.New("identity service down")
}

func TestGenerateReturnsBigEndianPrefix(t *testing.T) {
	raw := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xff, 0xff}
	svc := New(fixedSource(raw, nil))

	v, err := svc.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), v)

	hist := svc.History()
	require.Len(t, hist, 1)
	assert.Equal(t, v, hist[0].Value)
	assert.Equal(t, uint64(1), hist[0].SequenceID)
}

func TestGenerateExactlyEightBytes(t *testing.T) {
	svc := New(fixedSource([]byte{0, 0, 0, 0, 0, 0, 0, 9}, nil))
	v, err := svc.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v)
}

func TestGenerateInsufficientEntropy(t *testing.T) {
	src, _ := counterSource()
	svc := New(src)
	_, err := svc.Generate(context.Background())
	require.NoError(t, err)

	svc.source = fixedSource([]byte{1, 2, 3, 4}, nil)
	beforeLen, beforeSeq := svc.HistoryCount(), svc.LastSequence()

	_, err = svc.Generate(context.Background())
	require.ErrorIs(t, err, ErrInsufficientEntropy)
	assert.Equal(t, beforeLen, svc.HistoryCount())
	assert.Equal(t, beforeSeq, svc.LastSequence())
}

func TestGenerateSourceUnavailable(t *testing.T) {
	cause := errors.New("subnet unreachable")
	svc := New(fixedSource(nil, cause))

	_, err := svc.Generate(context.Background())
	require.Error(t, err)

	var unavailable *SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "randomness source unavailable: subnet unreachable", err.Error())
	assert.Equal(t, 0, svc.HistoryCount())
	assert.Equal(t, uint64(0), svc.LastSequence())
}

func TestGenerateSourceFailureWinsOverShortBytes(t *testing.T) {
	svc := New(fixedSource([]byte{1}, errors.New("boom")))
	_, err := svc.Generate(context.Background())
	var unavailable *SourceUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestGenerateSequencesAreContiguous(t *testing.T) {
	src, _ := counterSource()
	svc := New(src)

	const n = 50
	for i := 0; i < n; i++ {
		_, err := svc.Generate(context.Background())
		require.NoError(t, err)
	}

	hist := svc.History()
	require.Len(t, hist, n)
	for i, e := range hist {
		assert.Equal(t, uint64(n-i), e.SequenceID)
	}
	assert.True(t, svc.VerifyIntegrity().IsValid)
}

func TestGenerateConcurrent(t *testing.T) {
	src, _ := counterSource()
	svc := New(src)

	const workers, per = 10, 30
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				_, err := svc.Generate(context.Background())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	hist := svc.History()
	require.Len(t, hist, workers*per)
	for i := 1; i < len(hist); i++ {
		require.Greater(t, hist[i-1].SequenceID, hist[i].SequenceID)
	}
	status := svc.VerifyIntegrity()
	assert.True(t, status.IsValid)
	assert.Equal(t, [2]uint64{1, workers * per}, status.ExpectedRange)
}

func TestGenerateEvictsAtCapacity(t *testing.T) {
	src, _ := counterSource()
	svc := New(src)

	for i := 0; i < 1005; i++ {
		_, err := svc.Generate(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, history.MaxEntries, svc.HistoryCount())
	status := svc.VerifyIntegrity()
	assert.True(t, status.IsValid)
	assert.Equal(t, uint64(history.MaxEntries), status.TotalEntries)
	assert.Equal(t, [2]uint64{6, 1005}, status.ExpectedRange)
	assert.Empty(t, status.DetectedGaps)
}

func TestGenerateCapturesCallContext(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src, _ := counterSource()
	svc := New(src, WithExecutionContext(HostContext{
		Revision: 3,
		Clock:    func() time.Time { return at },
	}))

	_, err := svc.Generate(callctx.WithCaller(context.Background(), "alice"))
	require.NoError(t, err)
	_, err = svc.Generate(context.Background())
	require.NoError(t, err)

	hist := svc.History()
	require.Len(t, hist, 2)

	anon, named := hist[0], hist[1]
	assert.Nil(t, anon.CallContext.Caller)
	require.NotNil(t, named.CallContext.Caller)
	assert.Equal(t, "alice", *named.CallContext.Caller)
	assert.Equal(t, at.UnixNano(), named.Timestamp)
	assert.Equal(t, uint64(3), named.CallContext.Version)
	assert.Zero(t, named.CallContext.ExecutionRound)
	assert.Zero(t, named.CallContext.ResourceCost)
}

func TestAuditFailureDoesNotFailGenerate(t *testing.T) {
	src, _ := counterSource()
	svc := New(src, WithExecutionContext(brokenEnv{}))

	v, err := svc.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), v)

	hist := svc.History()
	require.Len(t, hist, 1)
	assert.Nil(t, hist[0].CallContext.Caller)
}

func TestAuditPanicDoesNotFailGenerate(t *testing.T) {
	src, _ := counterSource()
	log := history.NewLog(1, history.WithEvictionHook(history.EvictionHookFunc(func(history.Eviction) {
		panic("archive unavailable")
	})))
	svc := New(src, WithLog(log))

	for i := 0; i < 3; i++ {
		v, err := svc.Generate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1)*1000, v)
	}
	assert.Equal(t, 1, svc.HistoryCount())
	assert.Equal(t, uint64(3), svc.LastSequence())

	// the service lock must have been released after each panic
	done := make(chan struct{})
	go func() {
		_, _ = svc.Generate(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generate blocked after audit panic")
	}
}

func TestSlowEvictionHookDoesNotStallGenerate(t *testing.T) {
	src, _ := counterSource()
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	log := history.NewLog(1, history.WithEvictionHook(history.EvictionHookFunc(func(history.Eviction) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})))
	svc := New(src, WithLog(log))
	defer close(release)

	_, err := svc.Generate(context.Background())
	require.NoError(t, err)

	// second call evicts and parks in the hook
	go func() { _, _ = svc.Generate(context.Background()) }()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction hook never ran")
	}

	// the third call commits while the second is still parked in the hook
	go func() { _, _ = svc.Generate(context.Background()) }()
	assert.Eventually(t, func() bool { return svc.LastSequence() == 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, svc.HistoryCount())
	assert.Equal(t, uint64(3), svc.History()[0].SequenceID)
}

func TestCommitReturnsEviction(t *testing.T) {
	src, _ := counterSource()
	svc := New(src, WithLog(history.NewLog(1)))

	first := svc.commit(context.Background(), 1)
	assert.Nil(t, first.eviction)

	second := svc.commit(context.Background(), 2)
	require.NotNil(t, second.eviction)
	assert.Equal(t, 1, second.eviction.Removed)
	assert.Equal(t, uint64(1), second.eviction.MinSeq)
}

func TestCommitReportsDegradedOutcome(t *testing.T) {
	svc := New(fixedSource(make([]byte, 8), nil), WithExecutionContext(brokenEnv{}))
	out := svc.commit(context.Background(), 5)
	assert.ErrorIs(t, out.err, ErrAuditWriteDegraded)
	assert.Equal(t, uint64(1), out.seq)
}

func TestStats(t *testing.T) {
	svc := New(fixedSource([]byte{0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0}, nil))
	for i := 0; i < 4; i++ {
		_, err := svc.Generate(context.Background())
		require.NoError(t, err)
	}
	s := svc.Stats()
	assert.Equal(t, 4, s.Count)
	assert.InDelta(t, 0.5, s.OnesRatio, 1e-12)
}

func TestDegradedAuditLogTagsComponentOnce(t *testing.T) {
	var buf bytes.Buffer
	src, _ := counterSource()
	svc := New(src,
		WithExecutionContext(brokenEnv{}),
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
	)
	_, err := svc.Generate(context.Background())
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "degraded audit")
	assert.Equal(t, 1, strings.Count(out, "component=rng"))
}
