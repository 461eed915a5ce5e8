// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package work runs deferred work items on a dedicated pool of worker
// goroutines. The hook detach path queues its drain step here so the
// detach caller is never blocked behind in-flight invocations.
package work

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Queue dispatches work items onto a fixed pool of workers.
type Queue struct {
	logger  *zap.Logger
	workers int

	mu      sync.RWMutex
	stopped bool
	tasks   chan func()
	wg      sync.WaitGroup
}

// NewQueue creates a queue with the given worker count and buffer depth.
func NewQueue(workers, depth int, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if depth < 1 {
		depth = 64
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		tasks:   make(chan func(), depth),
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Debug("work queue started", zap.Int("workers", q.workers))
}

// Stop closes the queue and waits for all queued and in-flight items to
// finish. Items dispatched after Stop run inline on the dispatcher.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Debug("work queue stopped")
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for fn := range q.tasks {
		fn()
	}
}

// submit hands fn to a worker. When the buffer is full the item still
// runs asynchronously on its own goroutine; the only failure is a
// stopped queue.
func (q *Queue) submit(fn func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return false
	}
	select {
	case q.tasks <- fn:
		return true
	default:
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		fn()
	}()
	return true
}

// Item is a pre-allocated, single-use slot on a queue. Allocating the
// item up front lets callers fail early, at a point where an error can
// still be reported, rather than at dispatch time where it cannot.
type Item struct {
	q    *Queue
	used atomic.Bool
}

// Allocate reserves a work item. It fails only when the queue has been
// stopped.
func (q *Queue) Allocate() (*Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return nil, fmt.Errorf("work: queue stopped")
	}
	return &Item{q: q}, nil
}

// Dispatch runs fn on the queue's workers. An item dispatches exactly
// once; a second Dispatch panics. If the queue has stopped by the time
// the item is dispatched, fn runs inline on the caller; this only
// happens during shutdown, where blocking the caller is acceptable.
func (it *Item) Dispatch(fn func()) {
	if !it.used.CompareAndSwap(false, true) {
		panic("work: item dispatched twice")
	}
	if !it.q.submit(fn) {
		fn()
	}
}
