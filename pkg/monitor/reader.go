// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package monitor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/netevent"
	"github.com/mbeema/nethook/pkg/ringbuf"
)

// Reader drains the ring buffer, decodes each record as a netevent
// message, and hands it to the emit callback.
type Reader struct {
	ring   *ringbuf.Ring
	emit   func(*netevent.Message)
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewReader creates a ring reader. emit is called on the reader
// goroutine; it should hand off quickly.
func NewReader(ring *ringbuf.Ring, emit func(*netevent.Message), logger *zap.Logger) *Reader {
	return &Reader{ring: ring, emit: emit, logger: logger}
}

// Start launches the reader goroutine.
func (r *Reader) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop halts the reader and waits for it to exit. Records still in the
// ring are drained first if the ring has been closed.
func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reader) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		rec, ok := r.ring.Read(ctx)
		if !ok {
			return
		}
		msg, err := netevent.ParseMessage(rec)
		if err != nil {
			r.logger.Warn("undecodable event record",
				zap.Int("size", len(rec)), zap.Error(err))
			continue
		}
		r.emit(msg)
	}
}
