// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/config"
)

// Exporter is the interface for captured-event exporters.
type Exporter interface {
	ExportEvents(ctx context.Context, events []*Record) error
	Shutdown(ctx context.Context) error
}

const (
	defaultChannelSize = 10000

	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// Manager coordinates batching and export of captured events.
type Manager struct {
	logger    *zap.Logger
	exporters []Exporter

	eventCh chan *Record

	exportCount atomic.Int64
	dropCount   atomic.Int64

	batchSize     int
	flushInterval time.Duration

	circuitBreaker *CircuitBreaker

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewManager creates an export manager from configuration.
func NewManager(cfg *config.ExportersConfig, serviceName string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:         logger,
		eventCh:        make(chan *Record, defaultChannelSize),
		batchSize:      cfg.BatchSize,
		flushInterval:  cfg.FlushInterval,
		circuitBreaker: NewCircuitBreaker(5, 30*time.Second),
		stopCh:         make(chan struct{}),
	}

	if cfg.OTLP.Enabled {
		exp, err := NewOTLPExporter(&cfg.OTLP, serviceName, logger)
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			m.exporters = append(m.exporters, exp)
		}
	}

	if cfg.Stdout.Enabled {
		m.exporters = append(m.exporters, NewStdoutExporter(cfg.Stdout.Format, logger))
	}

	return m, nil
}

// AddExporter registers an additional exporter. Must be called before
// Start.
func (m *Manager) AddExporter(e Exporter) {
	m.exporters = append(m.exporters, e)
}

// Start begins the batch export goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.processEvents(ctx)

	m.logger.Info("export manager started",
		zap.Int("exporters", len(m.exporters)),
		zap.Int("batch_size", m.batchSize),
		zap.Duration("flush_interval", m.flushInterval),
	)
	return nil
}

// Stop flushes remaining events and shuts down exporters.
func (m *Manager) Stop() error {
	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, exp := range m.exporters {
		if err := exp.Shutdown(ctx); err != nil {
			m.logger.Error("exporter shutdown error", zap.Error(err))
		}
	}

	m.logger.Info("export manager stopped",
		zap.Int64("events_exported", m.exportCount.Load()),
		zap.Int64("dropped", m.dropCount.Load()),
	)
	return nil
}

// ExportEvent queues an event for export.
func (m *Manager) ExportEvent(r *Record) {
	select {
	case m.eventCh <- r:
	default:
		m.dropCount.Add(1)
		m.logger.Warn("event channel full, dropping event")
	}
}

func (m *Manager) processEvents(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]*Record, 0, m.batchSize)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-m.eventCh:
			batch = append(batch, r)
			if len(batch) >= m.batchSize {
				m.flushEvents(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flushEvents(ctx, batch)
				batch = batch[:0]
			}

		case <-m.stopCh:
			// Drain remaining
			for {
				select {
				case r := <-m.eventCh:
					batch = append(batch, r)
				default:
					if len(batch) > 0 {
						m.flushEvents(ctx, batch)
					}
					return
				}
			}

		case <-ctx.Done():
			for {
				select {
				case r := <-m.eventCh:
					batch = append(batch, r)
				default:
					if len(batch) > 0 {
						m.flushEvents(context.Background(), batch)
					}
					return
				}
			}
		}
	}
}

func (m *Manager) flushEvents(ctx context.Context, events []*Record) {
	for _, exp := range m.exporters {
		m.retryExport(ctx, func(expCtx context.Context) error {
			return exp.ExportEvents(expCtx, events)
		})
	}
	m.exportCount.Add(int64(len(events)))
}

// retryExport attempts an export with exponential backoff and circuit
// breaker.
func (m *Manager) retryExport(ctx context.Context, exportFn func(context.Context) error) {
	if !m.circuitBreaker.Allow() {
		m.dropCount.Add(1)
		m.logger.Debug("circuit breaker open, dropping export")
		return
	}

	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		exportCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := exportFn(exportCtx)
		cancel()

		if err == nil {
			m.circuitBreaker.RecordSuccess()
			return
		}

		m.circuitBreaker.RecordFailure()

		if attempt == maxRetries {
			m.logger.Error("export failed after retries",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			m.dropCount.Add(1)
			return
		}

		m.logger.Warn("export failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*backoffFactor,
			float64(maxBackoff),
		))
	}
}

// ExportedCount returns the number of exported events.
func (m *Manager) ExportedCount() int64 {
	return m.exportCount.Load()
}

// DropCount returns the number of dropped events.
func (m *Manager) DropCount() int64 {
	return m.dropCount.Load()
}

// ChannelDepth returns the current event channel fill level.
func (m *Manager) ChannelDepth() int {
	return len(m.eventCh)
}
