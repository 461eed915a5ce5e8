// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package rundown provides a reference-counted quiescence barrier.
//
// A Guard hands out cheap references to callers that are about to use an
// object, and offers a one-way Drain that closes the guard to new
// references and blocks until every outstanding reference is released.
// This is not a mutual-exclusion lock: many holders are expected at once.
// It is the "stop accepting work, then wait for the in-flight work to
// finish" half of an object teardown.
package rundown

import (
	"sync/atomic"
)

// closedBit marks the guard as draining. It is folded into the same
// atomic word as the reference count so that Acquire observes the flag
// and the count in a single load.
const closedBit = int64(1) << 62

// Guard is a single-use quiescence barrier. The zero value is not
// usable; create one with NewGuard. A Guard is never reused after Drain.
type Guard struct {
	state    atomic.Int64 // reference count, closedBit set once draining
	draining atomic.Bool
	drained  atomic.Bool
	done     chan struct{}
}

// NewGuard returns a guard that is open for acquisition.
func NewGuard() *Guard {
	return &Guard{done: make(chan struct{})}
}

// Acquire takes a reference. It fails iff Drain has begun, in which case
// the caller must treat the protected object as no longer usable.
func (g *Guard) Acquire() bool {
	for {
		s := g.state.Load()
		if s&closedBit != 0 {
			return false
		}
		if g.state.CompareAndSwap(s, s+1) {
			return true
		}
	}
}

// Release drops a reference taken with Acquire. Releasing the last
// reference after Drain has begun unblocks the drainer; the decrement is
// never lost even when it races with the drain flag flip.
func (g *Guard) Release() {
	s := g.state.Add(-1)
	switch {
	case s&closedBit == 0 && s < 0:
		panic("rundown: release without matching acquire")
	case s == closedBit-1:
		// The decrement crossed the drain flag: the guard was draining
		// with no live references.
		panic("rundown: release without matching acquire")
	case s&closedBit != 0 && s < closedBit:
		panic("rundown: release without matching acquire")
	case s == closedBit:
		// Last reference out while draining.
		close(g.done)
	}
}

// Drain closes the guard to new acquisitions and blocks until the
// reference count reaches zero. It may be called at most once, from a
// single goroutine; a second call is a contract violation.
func (g *Guard) Drain() {
	if !g.draining.CompareAndSwap(false, true) {
		panic("rundown: drain already started")
	}
	// Setting closedBit and reading the remaining count is one atomic
	// operation, so an Acquire either completed before this point (and
	// is counted) or fails from now on.
	if s := g.state.Add(closedBit); s != closedBit {
		<-g.done
	}
	g.drained.Store(true)
}

// Draining reports whether Drain has begun.
func (g *Guard) Draining() bool {
	return g.draining.Load()
}

// Drained reports whether Drain has completed. Once true, no reference
// is outstanding and none can be taken.
func (g *Guard) Drained() bool {
	return g.drained.Load()
}
