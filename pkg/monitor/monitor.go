// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package monitor implements the event-capture client program: it
// attaches to the netevent hook, validates each event's payload, and
// copies it into a ring buffer for the reader to decode and forward.
package monitor

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/netevent"
	"github.com/mbeema/nethook/pkg/ringbuf"
)

// Program invoke result codes.
const (
	ResultOK           uint32 = 0
	ResultInvalidEvent uint32 = 1
	ResultRingFull     uint32 = 2
)

// Program is the hook client. Its Invoke method is the program entry
// point registered at attach time.
type Program struct {
	ring    *ringbuf.Ring
	control *CaptureControl // nil means always capturing
	logger  *zap.Logger

	pushed  atomic.Int64
	skipped atomic.Int64
	invalid atomic.Int64
}

// NewProgram creates the monitor program writing into ring. control may
// be nil, in which case capture is always on.
func NewProgram(ring *ringbuf.Ring, control *CaptureControl, logger *zap.Logger) *Program {
	return &Program{ring: ring, control: control, logger: logger}
}

// Invoke is the program entry point. eventCtx must be a
// *netevent.Event; the payload slice is only borrowed for the duration
// of the call, so the push copies it.
func (p *Program) Invoke(_, eventCtx any) (uint32, error) {
	ev, ok := eventCtx.(*netevent.Event)
	if !ok || ev == nil || len(ev.Payload) == 0 {
		p.invalid.Add(1)
		return ResultInvalidEvent, nil
	}

	if p.control != nil && !p.control.Enabled() {
		p.skipped.Add(1)
		return ResultOK, nil
	}

	if err := p.ring.Output(ev.Payload); err != nil {
		p.logger.Debug("event not buffered", zap.Error(err))
		return ResultRingFull, nil
	}
	p.pushed.Add(1)
	return ResultOK, nil
}

// Pushed returns the number of events copied into the ring.
func (p *Program) Pushed() int64 { return p.pushed.Load() }

// Skipped returns the number of events ignored while capture was off.
func (p *Program) Skipped() int64 { return p.skipped.Load() }

// Invalid returns the number of malformed events seen.
func (p *Program) Invalid() int64 { return p.invalid.Load() }
