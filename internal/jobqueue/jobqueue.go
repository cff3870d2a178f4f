// Package jobqueue implements per-engine-id FIFO waiting queues with
// blocking long-poll consumers (spec §4.1).
package jobqueue

import (
	"context"
	"sync"
)

// Queue holds, for each engine id, a FIFO of unacquired jobs and a FIFO of
// parked long-poll waiters. Directed wakeups (spec §4.1: "wakes at most one
// waiter registered on that id") avoid a thundering herd across unrelated
// engine ids sharing the same Queue.
type Queue[T any] struct {
	mu      sync.Mutex
	items   map[string][]entry[T]
	waiters map[string][]*waiter[T]
}

type entry[T any] struct {
	jobID   string
	payload T
}

// delivery is the one-shot payload handed to a waiter, either directly by
// Offer or drained from the waiter's channel after a timeout/cancellation
// race (spec §5: cancellation must not lose a job that was already handed
// off).
type delivery[T any] struct {
	engineID string
	jobID    string
	payload  T
}

type waiter[T any] struct {
	engineIDs []string
	ch        chan delivery[T]
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:   make(map[string][]entry[T]),
		waiters: make(map[string][]*waiter[T]),
	}
}

// Offer inserts job at the tail of engineID's queue, waking at most one
// waiter parked on that id. Never fails (spec §4.1).
func (q *Queue[T]) Offer(engineID, jobID string, payload T) {
	q.mu.Lock()
	if ws := q.waiters[engineID]; len(ws) > 0 {
		w := ws[0]
		q.waiters[engineID] = ws[1:]
		q.removeWaiterFromOtherLists(w, engineID)
		// Sent while still holding the lock: w.ch is buffered (cap 1) and used
		// exactly once, so this cannot block. Sending before unlocking closes
		// the race where a concurrent timeout/cancellation removes w from the
		// waiter lists and, finding it already popped, assumes delivery
		// happened without ever checking the channel.
		w.ch <- delivery[T]{engineID: engineID, jobID: jobID, payload: payload}
		q.mu.Unlock()
		return
	}

	q.items[engineID] = append(q.items[engineID], entry[T]{jobID: jobID, payload: payload})
	q.mu.Unlock()
}

// Take suspends the caller until a job is available for engineID, ctx is
// cancelled, or ctx's deadline elapses, whichever comes first. The caller is
// expected to derive ctx's deadline with context.WithTimeout for the
// long-poll ceiling (spec §4.1).
func (q *Queue[T]) Take(ctx context.Context, engineID string) (jobID string, payload T, ok bool) {
	_, jobID, payload, ok = q.TakeAny(ctx, []string{engineID})
	return jobID, payload, ok
}

// TakeAny is Take generalized to a union of engine ids, used by a provider's
// acquire call registered on every engine id it is eligible for (spec §4.3
// acquire step 2). Within one engine id, the earliest-registered waiter and
// the earliest-enqueued job win. When several of engineIDs already have jobs
// queued, the first id in engineIDs that has one is served, regardless of
// which job was enqueued first.
func (q *Queue[T]) TakeAny(ctx context.Context, engineIDs []string) (engineID, jobID string, payload T, ok bool) {
	q.mu.Lock()
	for _, id := range engineIDs {
		if items := q.items[id]; len(items) > 0 {
			item := items[0]
			q.items[id] = items[1:]
			q.mu.Unlock()
			return id, item.jobID, item.payload, true
		}
	}

	w := &waiter[T]{engineIDs: engineIDs, ch: make(chan delivery[T], 1)}
	for _, id := range engineIDs {
		q.waiters[id] = append(q.waiters[id], w)
	}
	q.mu.Unlock()

	select {
	case d := <-w.ch:
		return d.engineID, d.jobID, d.payload, true
	case <-ctx.Done():
		q.removeWaiterFromAllLists(w)
		// Offer may have delivered concurrently with the context firing; a
		// departed waiter must never cause a job to be silently dropped.
		select {
		case d := <-w.ch:
			return d.engineID, d.jobID, d.payload, true
		default:
			var zero T
			return "", "", zero, false
		}
	}
}

// Withdraw removes jobID from engineID's queue if still present (used on
// cancellation before acquisition). Returns whether it was found.
func (q *Queue[T]) Withdraw(engineID, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items[engineID]
	for i, item := range items {
		if item.jobID == jobID {
			q.items[engineID] = append(items[:i], items[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the number of unacquired jobs waiting for engineID.
func (q *Queue[T]) Depth(engineID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items[engineID])
}

func (q *Queue[T]) removeWaiterFromOtherLists(w *waiter[T], exceptEngineID string) {
	for _, id := range w.engineIDs {
		if id == exceptEngineID {
			continue
		}
		q.waiters[id] = removeWaiter(q.waiters[id], w)
	}
}

func (q *Queue[T]) removeWaiterFromAllLists(w *waiter[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range w.engineIDs {
		q.waiters[id] = removeWaiter(q.waiters[id], w)
	}
}

func removeWaiter[T any](list []*waiter[T], target *waiter[T]) []*waiter[T] {
	for i, w := range list {
		if w == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
