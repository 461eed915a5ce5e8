package agent

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/config"
	"github.com/mbeema/nethook/pkg/netevent"
)

// newTestConfig returns a config suitable for in-process testing: no
// health server, no OTLP, no simulator, control file in a temp dir.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Health.Enabled = false
	cfg.Pipeline.Simulator.Enabled = false
	cfg.Exporters.Stdout.Enabled = false
	cfg.Capture.ControlDir = t.TempDir()
	cfg.Capture.OnDemand = false
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config) *Agent {
	t.Helper()
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a
}

func flowEvent(counter uint32) *netevent.Event {
	m := netevent.Message{
		Header: netevent.PacketHeader{EventID: netevent.EventFlow},
		Payload: netevent.Payload{
			SourceIP:     [4]byte{10, 0, 0, 1},
			DestIP:       [4]byte{10, 0, 0, 2},
			SourcePort:   40000,
			DestPort:     443,
			EventCounter: counter,
		},
	}
	return &netevent.Event{Header: m.Header, Payload: netevent.EncodeMessage(&m)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAgentDispatchReachesMonitor(t *testing.T) {
	a := newTestAgent(t, newTestConfig(t))

	rc, err := a.Dispatch(flowEvent(1))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rc != 0 {
		t.Errorf("Dispatch result = %d, want 0", rc)
	}

	waitFor(t, "event buffered by monitor", func() bool {
		return a.program.Pushed() == 1
	})
	if got := a.Stats().EventsInvoked.Load(); got != 1 {
		t.Errorf("EventsInvoked = %d, want 1", got)
	}
	if got := a.Stats().Attaches.Load(); got != 1 {
		t.Errorf("Attaches = %d, want 1", got)
	}
}

func TestAgentCaptureDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Capture.Enabled = false
	a := newTestAgent(t, cfg)

	if a.monitorClient != nil {
		t.Error("monitor client attached despite capture disabled")
	}

	// Dispatch still works; there is just no one listening.
	if rc, err := a.Dispatch(flowEvent(1)); rc != 0 || err != nil {
		t.Errorf("Dispatch = (%d, %v), want (0, nil)", rc, err)
	}
}

func TestAgentReloadCaptureType(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestAgent(t, cfg)

	newCfg := newTestConfig(t)
	newCfg.Capture.ControlDir = cfg.Capture.ControlDir
	newCfg.Capture.CaptureType = "drop"
	if err := a.Reload(newCfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if got := a.Stats().Detaches.Load(); got != 1 {
		t.Errorf("Detaches = %d, want 1", got)
	}
	if got := a.Stats().Attaches.Load(); got != 2 {
		t.Errorf("Attaches = %d, want 2", got)
	}

	// A flow event is now filtered, a drop event is captured.
	a.Dispatch(flowEvent(1))
	dropMsg := netevent.Message{
		Header: netevent.PacketHeader{
			EventID:  netevent.EventDrop,
			Metadata: netevent.StreamMetadata{DropReason: uint32(netevent.DropSecurityPolicy)},
		},
	}
	a.Dispatch(&netevent.Event{Header: dropMsg.Header, Payload: netevent.EncodeMessage(&dropMsg)})

	waitFor(t, "drop event buffered", func() bool {
		return a.program.Pushed() == 1
	})
	if got := a.Stats().EventsFiltered.Load(); got != 1 {
		t.Errorf("EventsFiltered = %d, want 1", got)
	}
}

func TestAgentReloadSimulatorToggle(t *testing.T) {
	cfg := newTestConfig(t)
	a := newTestAgent(t, cfg)

	newCfg := newTestConfig(t)
	newCfg.Capture.ControlDir = cfg.Capture.ControlDir
	newCfg.Pipeline.Simulator.Enabled = true
	newCfg.Pipeline.Simulator.Interval = time.Millisecond
	if err := a.Reload(newCfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	waitFor(t, "simulated events", func() bool {
		return a.Stats().EventsSeen.Load() >= 2
	})

	offCfg := newTestConfig(t)
	offCfg.Capture.ControlDir = cfg.Capture.ControlDir
	if err := a.Reload(offCfg); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if a.simulator != nil {
		t.Error("simulator still running after reload disabled it")
	}
}

func TestAgentStopIsIdempotentlySafe(t *testing.T) {
	cfg := newTestConfig(t)
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
