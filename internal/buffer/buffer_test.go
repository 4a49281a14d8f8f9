package buffer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apatte-racing/telemetry-ingest/internal/buffer"
)

// collector records flush snapshots and signals each one on a channel.
type collector struct {
	mu      sync.Mutex
	flushes [][]int
	signal  chan []int
	delay   time.Duration
}

func newCollector() *collector {
	return &collector{signal: make(chan []int, 16)}
}

func (c *collector) flush(_ context.Context, items []int) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.flushes = append(c.flushes, items)
	c.mu.Unlock()
	c.signal <- items
}

func (c *collector) all() [][]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]int, len(c.flushes))
	copy(out, c.flushes)
	return out
}

func waitFlush(t *testing.T, c *collector) []int {
	t.Helper()
	select {
	case items := <-c.signal:
		return items
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return nil
	}
}

func TestBuffer_SizeTrigger(t *testing.T) {
	c := newCollector()
	b := buffer.New(3, time.Minute, c.flush)
	defer b.Close()

	for i := 1; i <= 3; i++ {
		b.Enqueue(i)
	}

	items := waitFlush(t, c)
	assert.Equal(t, []int{1, 2, 3}, items)
}

func TestBuffer_FiveItemsBatchOfThree(t *testing.T) {
	c := newCollector()
	b := buffer.New(3, time.Minute, c.flush)

	for i := 1; i <= 5; i++ {
		b.Enqueue(i)
	}

	first := waitFlush(t, c)
	assert.Equal(t, []int{1, 2, 3}, first, "first flush carries exactly one full batch")

	// The remaining two items stay buffered until the timer or shutdown.
	b.Close()

	flushes := c.all()
	require.GreaterOrEqual(t, len(flushes), 2)
	var rest []int
	for _, f := range flushes[1:] {
		rest = append(rest, f...)
	}
	assert.Equal(t, []int{4, 5}, rest)
}

func TestBuffer_TimeTrigger(t *testing.T) {
	c := newCollector()
	b := buffer.New(100, 20*time.Millisecond, c.flush)
	defer b.Close()

	b.Enqueue(7)

	items := waitFlush(t, c)
	assert.Equal(t, []int{7}, items)
}

func TestBuffer_NoFlushOnEmptyBuffer(t *testing.T) {
	c := newCollector()
	b := buffer.New(10, 10*time.Millisecond, c.flush)

	time.Sleep(100 * time.Millisecond)
	b.Close()

	assert.Empty(t, c.all(), "timer must not flush an empty buffer")
}

func TestBuffer_EnqueueDuringFlushLandsInNextBatch(t *testing.T) {
	c := newCollector()
	c.delay = 50 * time.Millisecond
	b := buffer.New(2, time.Minute, c.flush)

	b.Enqueue(1)
	b.Enqueue(2)

	// The flush of {1,2} is sleeping; these accumulate for the next one.
	time.Sleep(10 * time.Millisecond)
	b.Enqueue(3)
	b.Enqueue(4)

	first := waitFlush(t, c)
	second := waitFlush(t, c)

	assert.Equal(t, []int{1, 2}, first)
	assert.Equal(t, []int{3, 4}, second)
}

func TestBuffer_CloseDrainsEverything(t *testing.T) {
	c := newCollector()
	b := buffer.New(100, time.Minute, c.flush)

	for i := 1; i <= 7; i++ {
		b.Enqueue(i)
	}
	b.Close()

	items := waitFlush(t, c)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, items)

	// Enqueue after Close is dropped.
	b.Enqueue(99)
	assert.Equal(t, 0, b.Size())
}

func TestBuffer_SizeObserver(t *testing.T) {
	c := newCollector()
	var mu sync.Mutex
	var sizes []int
	b := buffer.New(2, time.Minute, c.flush, buffer.WithSizeObserver[int](func(n int) {
		mu.Lock()
		sizes = append(sizes, n)
		mu.Unlock()
	}))
	defer b.Close()

	b.Enqueue(1)
	b.Enqueue(2)
	waitFlush(t, c)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, sizes)
	assert.Equal(t, 1, sizes[0])
	assert.Contains(t, sizes, 0, "snapshot resets the observed depth")
}
