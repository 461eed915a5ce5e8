package hookext

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/work"
)

func testRegistrar(t *testing.T) *Registrar {
	t.Helper()
	q := work.NewQueue(2, 16, zap.NewNop())
	q.Start()
	t.Cleanup(q.Stop)
	return NewRegistrar(q, zap.NewNop())
}

func registerTestHook(t *testing.T, r *Registrar) *ProviderHandle {
	t.Helper()
	h, err := r.RegisterProvider("test_hook",
		ProviderOptions{AttachParamSize: 4},
		func(c *Client, p *Provider) error { return nil },
		func(c *Client) {},
		nil)
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}
	return h
}

func TestRegisterDuplicateHook(t *testing.T) {
	r := testRegistrar(t)
	registerTestHook(t, r)

	_, err := r.RegisterProvider("test_hook",
		ProviderOptions{AttachParamSize: 4},
		func(c *Client, p *Provider) error { return nil },
		func(c *Client) {}, nil)
	if err == nil {
		t.Error("duplicate RegisterProvider succeeded")
	}
}

func TestAttachDetachThroughRegistrar(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	ch, err := r.AttachClient(h, "mon", []byte{1, 2, 3, 4}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}
	if h.Provider().ClientCount() != 1 {
		t.Fatal("client not linked")
	}

	r.DetachClient(ch)
	waitFor(t, ch.Done(), "client handle Done")

	if h.Provider().ClientCount() != 0 {
		t.Error("client still linked after detach completed")
	}
}

func TestDetachStaleHandlePanics(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	ch, err := r.AttachClient(h, "mon", []byte{1, 2, 3, 4}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}
	r.DetachClient(ch)
	waitFor(t, ch.Done(), "detach completion")

	defer func() {
		if recover() == nil {
			t.Error("detach through a stale handle did not panic")
		}
	}()
	r.DetachClient(ch)
}

func TestDeregisterDetachesAllClients(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	ca, err := r.AttachClient(h, "a", []byte{1, 0, 0, 0}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("attach a: %v", err)
	}
	cb, err := r.AttachClient(h, "b", []byte{2, 0, 0, 0}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("attach b: %v", err)
	}

	if err := r.DeregisterProvider(h); err != nil {
		t.Fatalf("DeregisterProvider: %v", err)
	}

	// Deregister blocks until every client is fully gone, so both
	// handles must already be done.
	select {
	case <-ca.Done():
	default:
		t.Error("client a not completed after deregister returned")
	}
	select {
	case <-cb.Done():
	default:
		t.Error("client b not completed after deregister returned")
	}
}

func TestDeregisterWaitsForInFlightInvocation(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	ch, err := r.AttachClient(h, "mon", []byte{1, 2, 3, 4}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}

	c := ch.Client()
	if !c.EnterRundown() {
		t.Fatal("EnterRundown failed")
	}

	done := make(chan struct{})
	go func() {
		if err := r.DeregisterProvider(h); err != nil {
			t.Errorf("DeregisterProvider: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("deregister returned with an invocation in flight")
	case <-time.After(50 * time.Millisecond):
	}

	c.LeaveRundown()
	waitFor(t, done, "deregister to return")
}

func TestAttachDeniedDuringDeregistration(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	if err := r.DeregisterProvider(h); err != nil {
		t.Fatalf("DeregisterProvider: %v", err)
	}

	_, err := r.AttachClient(h, "late", []byte{1, 2, 3, 4}, nil, noopInvoke)
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("attach after deregister: %v, want ErrAccessDenied", err)
	}
}

func TestAttachRacingDeregisterIsUnwound(t *testing.T) {
	r := testRegistrar(t)

	attachEntered := make(chan struct{})
	attachRelease := make(chan struct{})
	h, err := r.RegisterProvider("test_hook",
		ProviderOptions{AttachParamSize: 4},
		func(c *Client, p *Provider) error {
			close(attachEntered)
			<-attachRelease
			return nil
		},
		func(c *Client) {}, nil)
	if err != nil {
		t.Fatalf("RegisterProvider: %v", err)
	}

	attachErr := make(chan error, 1)
	go func() {
		_, err := r.AttachClient(h, "racer", []byte{1, 2, 3, 4}, nil, noopInvoke)
		attachErr <- err
	}()
	waitFor(t, attachEntered, "attach callback entry")

	// Deregistration starts while the attach is parked inside the
	// attach callback, so its handle snapshot cannot see the client.
	deregDone := make(chan struct{})
	go func() {
		if err := r.DeregisterProvider(h); err != nil {
			t.Errorf("DeregisterProvider: %v", err)
		}
		close(deregDone)
	}()

	select {
	case <-deregDone:
		t.Fatal("deregister returned with an attach in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(attachRelease)

	if err := <-attachErr; !errors.Is(err, ErrAccessDenied) {
		t.Errorf("racing attach: err = %v, want ErrAccessDenied", err)
	}
	waitFor(t, deregDone, "deregister to return")

	if h.Provider().ClientCount() != 0 {
		t.Error("client still linked after deregister returned")
	}
}

func TestHookIDReusableAfterDeregister(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)

	if err := r.DeregisterProvider(h); err != nil {
		t.Fatalf("DeregisterProvider: %v", err)
	}
	registerTestHook(t, r)
}

func TestCloseDeregistersEverything(t *testing.T) {
	r := testRegistrar(t)
	h := registerTestHook(t, r)
	ch, err := r.AttachClient(h, "mon", []byte{1, 2, 3, 4}, nil, noopInvoke)
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}

	r.Close()

	select {
	case <-ch.Done():
	default:
		t.Error("client not completed after Close returned")
	}

	if _, err := r.RegisterProvider("post_close",
		ProviderOptions{AttachParamSize: 4},
		func(c *Client, p *Provider) error { return nil },
		func(c *Client) {}, nil); err == nil {
		t.Error("RegisterProvider succeeded on a closed registrar")
	}
}
