package monitor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/netevent"
	"github.com/mbeema/nethook/pkg/ringbuf"
)

func sampleEvent(counter uint32) *netevent.Event {
	msg := &netevent.Message{
		Header: netevent.PacketHeader{EventID: netevent.EventDrop},
		Payload: netevent.Payload{
			SourceIP:     [4]byte{10, 0, 0, 1},
			DestIP:       [4]byte{10, 0, 0, 2},
			SourcePort:   80,
			DestPort:     12345,
			EventCounter: counter,
		},
	}
	msg.Header.Metadata.DropReason = uint32(netevent.DropBandwidthLimit)
	return &netevent.Event{Header: msg.Header, Payload: netevent.EncodeMessage(msg)}
}

func TestProgramPushesValidEvent(t *testing.T) {
	ring := ringbuf.New(4)
	p := NewProgram(ring, nil, zap.NewNop())

	rc, err := p.Invoke(nil, sampleEvent(1))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if rc != ResultOK {
		t.Errorf("result = %d, want %d", rc, ResultOK)
	}
	if ring.Len() != 1 {
		t.Errorf("ring length = %d, want 1", ring.Len())
	}
	if p.Pushed() != 1 {
		t.Errorf("Pushed = %d, want 1", p.Pushed())
	}
}

func TestProgramRejectsInvalidEvent(t *testing.T) {
	ring := ringbuf.New(4)
	p := NewProgram(ring, nil, zap.NewNop())

	if rc, _ := p.Invoke(nil, nil); rc != ResultInvalidEvent {
		t.Errorf("nil context result = %d, want %d", rc, ResultInvalidEvent)
	}
	if rc, _ := p.Invoke(nil, &netevent.Event{}); rc != ResultInvalidEvent {
		t.Errorf("empty payload result = %d, want %d", rc, ResultInvalidEvent)
	}
	if ring.Len() != 0 {
		t.Errorf("ring length = %d, want 0", ring.Len())
	}
	if p.Invalid() != 2 {
		t.Errorf("Invalid = %d, want 2", p.Invalid())
	}
}

func TestProgramReportsFullRing(t *testing.T) {
	ring := ringbuf.New(1)
	p := NewProgram(ring, nil, zap.NewNop())

	if rc, _ := p.Invoke(nil, sampleEvent(1)); rc != ResultOK {
		t.Fatalf("first push result = %d", rc)
	}
	if rc, _ := p.Invoke(nil, sampleEvent(2)); rc != ResultRingFull {
		t.Errorf("full ring result = %d, want %d", rc, ResultRingFull)
	}
}

func TestCaptureControlGatesProgram(t *testing.T) {
	ctrl, err := CreateCaptureControl(t.TempDir())
	if err != nil {
		t.Fatalf("CreateCaptureControl: %v", err)
	}
	defer func() {
		ctrl.Close()
		ctrl.Remove()
	}()

	ring := ringbuf.New(4)
	p := NewProgram(ring, ctrl, zap.NewNop())

	// Capture starts dormant.
	if ctrl.Enabled() {
		t.Fatal("control file is enabled right after creation")
	}
	if rc, _ := p.Invoke(nil, sampleEvent(1)); rc != ResultOK {
		t.Fatalf("dormant result = %d", rc)
	}
	if ring.Len() != 0 {
		t.Error("event buffered while capture disabled")
	}
	if p.Skipped() != 1 {
		t.Errorf("Skipped = %d, want 1", p.Skipped())
	}

	if err := ctrl.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if rc, _ := p.Invoke(nil, sampleEvent(2)); rc != ResultOK {
		t.Fatalf("enabled result = %d", rc)
	}
	if ring.Len() != 1 {
		t.Error("event not buffered while capture enabled")
	}
}

func TestReaderDecodesAndForwards(t *testing.T) {
	ring := ringbuf.New(8)
	got := make(chan *netevent.Message, 8)
	r := NewReader(ring, func(m *netevent.Message) { got <- m }, zap.NewNop())

	r.Start(context.Background())
	defer r.Stop()

	ev := sampleEvent(77)
	if err := ring.Output(ev.Payload); err != nil {
		t.Fatalf("Output: %v", err)
	}
	// An undecodable record is dropped, not forwarded.
	if err := ring.Output([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Output short: %v", err)
	}

	select {
	case m := <-got:
		if m.Payload.EventCounter != 77 {
			t.Errorf("EventCounter = %d, want 77", m.Payload.EventCounter)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader never forwarded the message")
	}

	select {
	case m := <-got:
		t.Errorf("unexpected second message: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
