// Package memory provides a bounded in-memory batch queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of fetch batches with context-aware operations.
type Queue struct {
	ch      chan crawler.FetchBatch
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan crawler.FetchBatch, capacity),
	}
}

// Enqueue pushes a batch into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, batch crawler.FetchBatch) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- batch:
		return nil
	}
}

// Dequeue pops the next batch, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.FetchBatch, error) {
	select {
	case <-ctx.Done():
		return crawler.FetchBatch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case batch, ok := <-q.ch:
		if !ok {
			return crawler.FetchBatch{}, ErrClosed
		}
		return batch, nil
	}
}

// Drain returns every batch still buffered. It must only be called after
// Close.
func (q *Queue) Drain() []crawler.FetchBatch {
	var out []crawler.FetchBatch
	for batch := range q.ch {
		out = append(out, batch)
	}
	return out
}

// Close closes the underlying channel. Buffered batches remain readable.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
