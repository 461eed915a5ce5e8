// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package ringbuf provides the bounded event ring that the monitor
// program writes captured payloads into. Producers never block: when
// the ring is full the record is dropped and counted, mirroring how a
// kernel ring buffer refuses the reservation rather than stalling the
// event path.
package ringbuf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFull is returned when the ring has no room for a record.
var ErrFull = errors.New("ringbuf: ring full")

// ErrClosed is returned when writing to a closed ring.
var ErrClosed = errors.New("ringbuf: ring closed")

// Ring is a bounded multi-producer, single-consumer record buffer.
type Ring struct {
	records chan []byte
	drops   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New creates a ring holding up to capacity records.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{records: make(chan []byte, capacity)}
}

// Output copies data into the ring. It never blocks: a full ring drops
// the record, counts it, and returns ErrFull.
func (r *Ring) Output(data []byte) error {
	rec := make([]byte, len(data))
	copy(rec, data)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.records <- rec:
		return nil
	default:
		r.drops.Add(1)
		return ErrFull
	}
}

// Read blocks until a record is available, the ring is closed and
// empty, or ctx is done. The bool is false when no record was read.
func (r *Ring) Read(ctx context.Context) ([]byte, bool) {
	select {
	case rec, ok := <-r.records:
		if !ok {
			return nil, false
		}
		return rec, true
	case <-ctx.Done():
		return nil, false
	}
}

// Close stops accepting records. Records already in the ring remain
// readable; Read returns false once they are consumed.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.records)
}

// Len returns the number of buffered records.
func (r *Ring) Len() int { return len(r.records) }

// Drops returns the number of records refused because the ring was full.
func (r *Ring) Drops() int64 { return r.drops.Load() }
