package engine

import (
	"context"
	"sync"

	"portfolio-optimizer/internal/errors"
)

// ticketQueue admits one holder at a time in arrival order.
// Waiters can be dropped wholesale, which wakes them with ErrSuperseded.
type ticketQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []*ticket
}

type ticket struct {
	ready      chan struct{}
	superseded bool
}

// acquire blocks until the caller holds the queue, ctx ends, or the
// ticket is superseded
func (q *ticketQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy && len(q.waiters) == 0 {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	t := &ticket{ready: make(chan struct{})}
	q.waiters = append(q.waiters, t)
	q.mu.Unlock()

	select {
	case <-t.ready:
		if t.superseded {
			return errors.ErrSuperseded
		}
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == t {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()

		// Granted or superseded while ctx ended
		if !t.superseded {
			q.release()
		}
		return ctx.Err()
	}
}

// release hands the queue to the oldest waiter
func (q *ticketQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next.ready)
}

// supersedeWaiters drops every queued ticket
func (q *ticketQueue) supersedeWaiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.waiters)
	for _, t := range q.waiters {
		t.superseded = true
		close(t.ready)
	}
	q.waiters = nil
	return n
}

// depth is the number of queued tickets
func (q *ticketQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}
