// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/netevent"
)

// dropReasons is the cycle of reasons stamped on simulated drop events.
var dropReasons = []netevent.DropReason{
	netevent.DropInvalidPacket,
	netevent.DropSecurityPolicy,
	netevent.DropBandwidthLimit,
	netevent.DropInactiveTimeout,
}

// Simulator feeds synthetic network events into the hook point at a
// fixed interval, alternating flow and drop events. It stands in for a
// real traffic source during development and soak testing.
type Simulator struct {
	interval time.Duration
	dispatch func(*netevent.Event) (uint32, error)
	logger   *zap.Logger

	counter atomic.Uint32
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSimulator creates a simulator that hands each generated event to
// dispatch.
func NewSimulator(interval time.Duration, dispatch func(*netevent.Event) (uint32, error), logger *zap.Logger) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Simulator{
		interval: interval,
		dispatch: dispatch,
		logger:   logger,
	}
}

// Start launches the generator loop.
func (s *Simulator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("event simulator started", zap.Duration("interval", s.interval))
}

// Stop halts the generator and waits for the loop to exit.
func (s *Simulator) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("event simulator stopped",
		zap.Uint32("events_generated", s.counter.Load()))
}

func (s *Simulator) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := s.nextEvent()
			if _, err := s.dispatch(ev); err != nil {
				s.logger.Warn("simulated event dispatch failed", zap.Error(err))
			}
		}
	}
}

// nextEvent builds the next synthetic event. Even-numbered events are
// flows, odd-numbered ones drops cycling through the drop reasons.
func (s *Simulator) nextEvent() *netevent.Event {
	n := s.counter.Add(1) - 1

	m := netevent.Message{
		Header: netevent.PacketHeader{
			EventID: netevent.EventFlow,
			Descriptor: netevent.PacketDescriptor{
				OriginalLength: netevent.PayloadSize,
				LoggedLength:   netevent.PayloadSize,
				MetadataLength: netevent.MetadataSize,
			},
			Metadata: netevent.StreamMetadata{
				PktGroupID: uint64(n),
				PktCount:   1,
				Timestamp:  uint64(time.Now().UnixNano()),
			},
		},
		Payload: netevent.Payload{
			SourceIP:     [4]byte{10, 0, 0, 1},
			DestIP:       [4]byte{10, 0, 0, 2},
			SourcePort:   uint16(40000 + n%1000),
			DestPort:     443,
			EventCounter: n,
		},
	}
	if n%2 == 1 {
		m.Header.EventID = netevent.EventDrop
		m.Header.Metadata.DropReason = uint32(dropReasons[(n/2)%uint32(len(dropReasons))])
	}

	return &netevent.Event{
		Header:  m.Header,
		Payload: netevent.EncodeMessage(&m),
	}
}
