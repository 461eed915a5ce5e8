// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent wires the daemon together: the hook registrar and
// provider, the capture client and its ring, the event sources, the
// export manager, and the health server.
package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/config"
	"github.com/mbeema/nethook/pkg/export"
	"github.com/mbeema/nethook/pkg/health"
	"github.com/mbeema/nethook/pkg/hookext"
	"github.com/mbeema/nethook/pkg/monitor"
	"github.com/mbeema/nethook/pkg/netevent"
	"github.com/mbeema/nethook/pkg/pipeline"
	"github.com/mbeema/nethook/pkg/ringbuf"
	"github.com/mbeema/nethook/pkg/work"
)

// monitorModuleID identifies the built-in capture client on the hook.
const monitorModuleID = "netevent_monitor"

// Agent is the daemon orchestrator. Config is stored as an atomic
// pointer, safe for concurrent access during reload.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	healthStats  *health.Stats
	healthServer *health.Server

	queue      *work.Queue
	registrar  *hookext.Registrar
	provider   *hookext.ProviderHandle
	dispatcher *pipeline.Dispatcher
	simulator  *pipeline.Simulator

	ring          *ringbuf.Ring
	ringStats     atomic.Pointer[ringbuf.Ring] // read by statsLoop without the lock
	control       *monitor.CaptureControl
	program       *monitor.Program
	reader        *monitor.Reader
	monitorClient *hookext.ClientHandle

	exporter *export.Manager

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an agent from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	a := &Agent{logger: logger}
	a.cfg.Store(cfg)

	a.healthStats = health.NewStats()
	a.queue = work.NewQueue(cfg.Work.Workers, cfg.Work.QueueDepth, logger)
	a.registrar = hookext.NewRegistrar(a.queue, logger)

	exporter, err := export.NewManager(&cfg.Exporters, cfg.ServiceName, logger)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	a.exporter = exporter

	return a, nil
}

// Start begins all subsystems and wires them together.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.ctx = ctx
	a.cancel = cancel

	cfg := a.cfg.Load()

	a.queue.Start()

	h, err := pipeline.Register(a.registrar, a.logger)
	if err != nil {
		return fmt.Errorf("register hook provider: %w", err)
	}
	a.provider = h
	a.dispatcher = pipeline.NewDispatcher(h, a.healthStats, a.logger)

	if err := a.exporter.Start(ctx); err != nil {
		return fmt.Errorf("start exporter: %w", err)
	}

	if cfg.Capture.Enabled {
		if err := a.startCaptureLocked(cfg); err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
	}

	if cfg.Pipeline.Simulator.Enabled {
		a.simulator = pipeline.NewSimulator(cfg.Pipeline.Simulator.Interval, a.dispatcher.Dispatch, a.logger)
		a.simulator.Start()
	}

	a.wg.Add(1)
	go a.statsLoop(ctx)

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, "dev", a.healthStats, a.logger)
		if err := a.healthServer.Start(ctx); err != nil {
			a.logger.Warn("health server start error", zap.Error(err))
		} else {
			a.healthServer.SetReady(true)
		}
	}

	a.logger.Info("agent started",
		zap.Bool("capture", cfg.Capture.Enabled),
		zap.Bool("simulator", cfg.Pipeline.Simulator.Enabled),
		zap.String("capture_type", cfg.Capture.CaptureType),
	)
	return nil
}

// startCaptureLocked creates the ring, control file, and monitor
// program, and attaches the program to the hook point.
func (a *Agent) startCaptureLocked(cfg *config.Config) error {
	control, err := monitor.CreateCaptureControl(cfg.Capture.ControlDir)
	if err != nil {
		a.logger.Warn("capture control unavailable, capture always on", zap.Error(err))
	} else {
		a.control = control
		if cfg.Capture.OnDemand {
			a.logger.Info("on-demand capture: starting dormant",
				zap.String("control", control.Path()))
		} else if err := control.Enable(); err != nil {
			a.logger.Warn("failed to enable capture", zap.Error(err))
		}
	}

	a.ring = ringbuf.New(cfg.Capture.RingSize)
	a.ringStats.Store(a.ring)
	a.program = monitor.NewProgram(a.ring, a.control, a.logger)

	if err := a.attachMonitorLocked(cfg.Capture.CaptureType); err != nil {
		return err
	}

	serviceName := a.cfg.Load().ServiceName
	a.reader = monitor.NewReader(a.ring, func(m *netevent.Message) {
		a.exporter.ExportEvent(export.FromMessage(m, serviceName))
	}, a.logger)
	a.reader.Start(a.ctx)

	return nil
}

// attachMonitorLocked attaches the monitor program with the given
// capture type.
func (a *Agent) attachMonitorLocked(captureType string) error {
	ct, err := netevent.ParseCaptureType(captureType)
	if err != nil {
		return err
	}

	ch, err := a.registrar.AttachClient(a.provider, monitorModuleID,
		netevent.AttachOpts{CaptureType: ct}.Marshal(), nil, a.program.Invoke)
	if err != nil {
		a.healthStats.AttachRejects.Add(1)
		return fmt.Errorf("attach monitor: %w", err)
	}
	a.healthStats.Attaches.Add(1)
	a.monitorClient = ch

	a.logger.Info("monitor client attached", zap.String("capture_type", ct.String()))
	return nil
}

// detachMonitorLocked detaches the monitor program and waits for the
// drain to complete.
func (a *Agent) detachMonitorLocked() {
	if a.monitorClient == nil {
		return
	}
	ch := a.monitorClient
	a.monitorClient = nil

	a.healthStats.Detaches.Add(1)
	a.registrar.DetachClient(ch)
	<-ch.Done()
	a.healthStats.DrainsCompleted.Add(1)
}

// statsLoop periodically mirrors subsystem counters into the health
// stats.
func (a *Agent) statsLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.syncStats()
			return
		case <-ticker.C:
			a.syncStats()
		}
	}
}

func (a *Agent) syncStats() {
	if ring := a.ringStats.Load(); ring != nil {
		a.healthStats.RingDrops.Store(ring.Drops())
	}
	a.healthStats.EventsExported.Store(a.exporter.ExportedCount())
	a.healthStats.ExportDrops.Store(a.exporter.DropCount())
}

// Dispatch feeds one event into the hook point. Exposed for event
// sources other than the built-in simulator.
func (a *Agent) Dispatch(ev *netevent.Event) (uint32, error) {
	return a.dispatcher.Dispatch(ev)
}

// Reload applies new configuration. The monitor client is re-attached
// when the capture type changes; capture and the simulator start or
// stop when their toggles change.
func (a *Agent) Reload(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	oldCfg := a.cfg.Load()
	a.cfg.Store(cfg)

	// Simulator toggle
	if !oldCfg.Pipeline.Simulator.Enabled && cfg.Pipeline.Simulator.Enabled {
		a.simulator = pipeline.NewSimulator(cfg.Pipeline.Simulator.Interval, a.dispatcher.Dispatch, a.logger)
		a.simulator.Start()
	} else if oldCfg.Pipeline.Simulator.Enabled && !cfg.Pipeline.Simulator.Enabled {
		if a.simulator != nil {
			a.simulator.Stop()
			a.simulator = nil
		}
	}

	// Capture toggle
	if !oldCfg.Capture.Enabled && cfg.Capture.Enabled {
		if err := a.startCaptureLocked(cfg); err != nil {
			a.logger.Error("capture start on reload failed", zap.Error(err))
		}
	} else if oldCfg.Capture.Enabled && !cfg.Capture.Enabled {
		a.stopCaptureLocked()
	} else if cfg.Capture.Enabled && oldCfg.Capture.CaptureType != cfg.Capture.CaptureType {
		// Re-attach with the new capture type. The detach drains first;
		// the program keeps its ring and control state across attaches.
		a.detachMonitorLocked()
		if err := a.attachMonitorLocked(cfg.Capture.CaptureType); err != nil {
			a.logger.Error("monitor re-attach on reload failed", zap.Error(err))
		}
	}

	a.logger.Info("configuration reloaded",
		zap.Bool("capture", cfg.Capture.Enabled),
		zap.Bool("simulator", cfg.Pipeline.Simulator.Enabled),
		zap.String("capture_type", cfg.Capture.CaptureType),
	)
	return nil
}

// stopCaptureLocked detaches the monitor and tears down the ring,
// reader, and control file.
func (a *Agent) stopCaptureLocked() {
	a.detachMonitorLocked()

	if a.ring != nil {
		a.ring.Close()
	}
	if a.reader != nil {
		a.reader.Stop()
		a.reader = nil
	}
	a.ring = nil
	a.ringStats.Store(nil)
	a.program = nil

	if a.control != nil {
		a.control.Close()
		a.control.Remove()
		a.control = nil
	}
}

// Stop shuts down all subsystems gracefully. Event sources stop first,
// then every attached client is detached and drained, then the capture
// path and the exporter flush.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}

	if a.simulator != nil {
		a.simulator.Stop()
		a.simulator = nil
	}

	// Detaches every remaining client and blocks until each drain has
	// completed. After this no program is ever invoked again.
	a.monitorClient = nil
	a.registrar.Close()

	if a.ring != nil {
		a.ring.Close()
	}
	if a.reader != nil {
		a.reader.Stop()
	}
	if a.control != nil {
		a.control.Close()
		a.control.Remove()
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if err := a.exporter.Stop(); err != nil {
		a.logger.Error("exporter stop error", zap.Error(err))
	}

	a.queue.Stop()

	if a.healthServer != nil {
		a.healthServer.Stop()
	}

	if a.program != nil {
		a.logger.Info("agent stopped",
			zap.Int64("events_buffered", a.program.Pushed()),
			zap.Int64("events_skipped", a.program.Skipped()),
			zap.Int64("events_exported", a.exporter.ExportedCount()),
		)
	} else {
		a.logger.Info("agent stopped",
			zap.Int64("events_exported", a.exporter.ExportedCount()))
	}
	return nil
}

// Stats exposes the health counters, for tests and tooling.
func (a *Agent) Stats() *health.Stats { return a.healthStats }
