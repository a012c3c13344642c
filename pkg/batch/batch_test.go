package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu      sync.Mutex
	batches [][]int
}

func (s *sink) flush(b []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
}

func (s *sink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestCloseFlushesPending(t *testing.T) {
	s := &sink{}
	w := New(s.flush, Options{MaxBatch: 4, Interval: time.Hour})
	for i := 0; i < 10; i++ {
		require.True(t, w.Offer(i))
	}
	w.Close()
	w.Close()

	assert.Equal(t, 10, s.total())
	require.Len(t, s.batches, 3)
	assert.Equal(t, []int{0, 1, 2, 3}, s.batches[0])
	assert.Equal(t, []int{8, 9}, s.batches[2])
}

func TestIntervalFlush(t *testing.T) {
	s := &sink{}
	w := New(s.flush, Options{MaxBatch: 100, Interval: 10 * time.Millisecond})
	defer w.Close()

	w.Offer(1)
	assert.Eventually(t, func() bool { return s.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOfferDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	w := New(func([]int) { <-block }, Options{Buffer: 1, MaxBatch: 1, Interval: time.Hour})

	// first record is taken by the loop and blocks in flush, the second fills the buffer
	w.Offer(1)
	assert.Eventually(t, func() bool { return w.Offer(2) }, time.Second, time.Millisecond)
	assert.False(t, w.Offer(3))
	assert.GreaterOrEqual(t, w.Dropped(), uint64(1))

	close(block)
	w.Close()
}

func TestOfferAfterCloseIsRejected(t *testing.T) {
	s := &sink{}
	w := New(s.flush, Options{})
	require.True(t, w.Offer(1))
	w.Close()

	assert.NotPanics(t, func() {
		assert.False(t, w.Offer(2))
	})
	assert.Equal(t, 1, s.total())
}

func TestConcurrentOfferAndClose(t *testing.T) {
	s := &sink{}
	w := New(s.flush, Options{Buffer: 8, MaxBatch: 2, Interval: time.Millisecond})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				w.Offer(i)
			}
		}()
	}
	time.Sleep(time.Millisecond)
	assert.NotPanics(t, w.Close)
	wg.Wait()
}
