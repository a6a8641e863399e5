// Package memory provides the in-process work queue shared by crawl workers.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = crawler.ErrQueueClosed

// Queue is a bounded FIFO of product identifiers with context-aware
// operations. Close lets consumers drain what is left and then stop.
type Queue struct {
	ch     chan crawler.ProductID
	mu     sync.RWMutex
	closed bool
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a queue holding up to capacity identifiers.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan crawler.ProductID, capacity)}
}

// Enqueue adds id, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, id crawler.ProductID) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", id, ctx.Err())
	case q.ch <- id:
		return nil
	}
}

// Dequeue returns the next identifier in FIFO order.
func (q *Queue) Dequeue(ctx context.Context) (crawler.ProductID, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("dequeue: %w", ctx.Err())
	case id, ok := <-q.ch:
		if !ok {
			return "", ErrClosed
		}
		return id, nil
	}
}

// Len reports how many identifiers are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops further enqueues. Pending identifiers remain available to
// Dequeue. Close must not race with a blocked Enqueue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
