// Package buffer accumulates validated items and flushes them on size or
// time triggers.
//
// A single flusher goroutine serializes all flushes: at most one flush is in
// flight, re-triggers while one is running are coalesced, and a snapshot's
// ownership transfers fully to the flush call. New items enqueued during a
// flush land in the fresh buffer and never race with the in-flight snapshot.
package buffer

import (
	"context"
	"sync"
	"time"
)

// FlushFunc consumes one snapshot of buffered items. Item order within the
// snapshot follows enqueue order.
type FlushFunc[T any] func(ctx context.Context, items []T)

// Option configures a Buffer.
type Option[T any] func(*Buffer[T])

// WithSizeObserver installs a callback invoked with the buffer depth after
// every enqueue and snapshot, used to feed the buffer-size gauge.
func WithSizeObserver[T any](fn func(int)) Option[T] {
	return func(b *Buffer[T]) { b.onSize = fn }
}

// Buffer is a size/time triggered batching buffer. Enqueue is safe for
// concurrent use; Close drains whatever remains with a final flush.
type Buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	batchSize int
	interval  time.Duration
	flush     FlushFunc[T]
	onSize    func(int)

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Buffer and starts its flusher goroutine. Each flush carries
// at most batchSize items, which bounds both per-insert transaction size and
// memory footprint under bursty load; the interval bounds worst-case latency
// for a partially filled buffer.
func New[T any](batchSize int, interval time.Duration, flush FlushFunc[T], opts ...Option[T]) *Buffer[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	b := &Buffer[T]{
		batchSize: batchSize,
		interval:  interval,
		flush:     flush,
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Enqueue appends item to the buffer and triggers a flush when the batch
// size threshold is reached. Items enqueued after Close are dropped.
func (b *Buffer[T]) Enqueue(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, item)
	n := len(b.items)
	b.mu.Unlock()

	if b.onSize != nil {
		b.onSize(n)
	}
	if n >= b.batchSize {
		// Non-blocking: a pending trigger already covers this batch.
		select {
		case b.trigger <- struct{}{}:
		default:
		}
	}
}

// Size reports the current number of buffered items.
func (b *Buffer[T]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close stops the flusher after a final flush that drains all remaining
// items. It blocks until the drain completes.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
}

func (b *Buffer[T]) run() {
	defer close(b.done)
	timer := time.NewTimer(b.interval)
	defer timer.Stop()

	for {
		select {
		case <-b.trigger:
			b.drain(false)
		case <-timer.C:
			b.drain(false)
		case <-b.stop:
			b.drain(true)
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(b.interval)
	}
}

// drain flushes snapshots of up to batchSize items. With all=false it keeps
// flushing while a full batch is available (a coalesced re-trigger); with
// all=true it loops until the buffer is empty. An empty buffer never
// produces a flush.
func (b *Buffer[T]) drain(all bool) {
	ctx := context.Background()
	for {
		b.mu.Lock()
		n := len(b.items)
		if n == 0 {
			b.mu.Unlock()
			return
		}
		take := n
		if take > b.batchSize {
			take = b.batchSize
		}
		snapshot := b.items[:take:take]
		if take == n {
			b.items = nil
		} else {
			rest := make([]T, n-take)
			copy(rest, b.items[take:])
			b.items = rest
		}
		remaining := len(b.items)
		b.mu.Unlock()

		if b.onSize != nil {
			b.onSize(remaining)
		}
		b.flush(ctx, snapshot)

		if !all && remaining < b.batchSize {
			return
		}
	}
}
