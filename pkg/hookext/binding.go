// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hookext

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/work"
)

// Binding is the boundary with the external binding mechanism: the
// framework that discovers providers and clients and drives attach and
// detach notifications into the core. The core has no compile-time
// dependency on any particular host framework; Registrar is the
// in-process implementation used by this daemon.
type Binding interface {
	// RegisterProvider publishes a hook point. The returned handle is
	// the only way to reach the provider through the binding.
	RegisterProvider(hookID string, opts ProviderOptions, attach AttachCallback, detach DetachCallback, customData any) (*ProviderHandle, error)

	// DeregisterProvider detaches every remaining client, blocks until
	// each client's detach has completed, and removes the hook point.
	// No new attach can begin once deregistration has started.
	DeregisterProvider(h *ProviderHandle) error

	// AttachClient notifies the provider that a client wants to attach.
	// A nil param requests the wildcard attach parameter.
	AttachClient(h *ProviderHandle, moduleID string, param []byte, bindingCtx any, invoke InvokeFunc) (*ClientHandle, error)

	// DetachClient notifies the provider that a client is detaching.
	// It returns before the detach completes; the handle's Done channel
	// closes exactly once when it has.
	DetachClient(ch *ClientHandle)
}

// ProviderHandle is the opaque handle returned by RegisterProvider.
type ProviderHandle struct {
	hookID string
	reg    *registration
}

// Provider exposes the underlying provider record, for hook-point
// execution paths that iterate attached clients directly.
func (h *ProviderHandle) Provider() *Provider { return h.reg.provider }

// ClientHandle is the opaque per-client handle returned by AttachClient.
type ClientHandle struct {
	reg    *registration
	client *Client
	done   chan struct{}
}

// Client exposes the underlying client record.
func (h *ClientHandle) Client() *Client { return h.client }

// Done closes when the client's detach has fully completed: the client
// is unlinked, drained, and will never be invoked again.
func (h *ClientHandle) Done() <-chan struct{} { return h.done }

// registration is the binding-side state for one provider: the live
// client handles and the deregistration barrier.
type registration struct {
	provider *Provider

	mu       sync.Mutex
	draining bool
	handles  map[*Client]*ClientHandle
	active   int           // attached clients plus detaches still draining
	idle     chan struct{} // closed when draining and active drops to 0
}

func (reg *registration) clientDone() {
	reg.mu.Lock()
	reg.active--
	if reg.active < 0 {
		reg.mu.Unlock()
		panic("hookext: detach completion without matching attach")
	}
	if reg.draining && reg.active == 0 {
		close(reg.idle)
	}
	reg.mu.Unlock()
}

// Registrar is the in-process binding mechanism.
type Registrar struct {
	logger *zap.Logger
	queue  *work.Queue

	mu        sync.Mutex
	closed    bool
	providers map[string]*registration
}

// NewRegistrar creates a binding mechanism whose providers queue their
// detach drain steps on queue.
func NewRegistrar(queue *work.Queue, logger *zap.Logger) *Registrar {
	return &Registrar{
		logger:    logger,
		queue:     queue,
		providers: make(map[string]*registration),
	}
}

// RegisterProvider publishes a hook point under hookID. Registering the
// same hook twice fails.
func (r *Registrar) RegisterProvider(hookID string, opts ProviderOptions, attach AttachCallback, detach DetachCallback, customData any) (*ProviderHandle, error) {
	p, err := NewProvider(hookID, opts, attach, detach, customData, r.queue, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("hookext: registrar closed")
	}
	if _, exists := r.providers[hookID]; exists {
		return nil, fmt.Errorf("hookext: hook %q already registered", hookID)
	}
	reg := &registration{
		provider: p,
		handles:  make(map[*Client]*ClientHandle),
		idle:     make(chan struct{}),
	}
	r.providers[hookID] = reg
	r.logger.Info("hook provider registered", zap.String("hook", hookID))
	return &ProviderHandle{hookID: hookID, reg: reg}, nil
}

// AttachClient routes an attach notification to the provider. It
// returns a client handle on success, or one of the attach taxonomy
// errors.
func (r *Registrar) AttachClient(h *ProviderHandle, moduleID string, param []byte, bindingCtx any, invoke InvokeFunc) (*ClientHandle, error) {
	reg := h.reg

	reg.mu.Lock()
	if reg.draining {
		reg.mu.Unlock()
		return nil, fmt.Errorf("hookext: hook %q is deregistering: %w", h.hookID, ErrAccessDenied)
	}
	// Count the attach before releasing the lock so a concurrent
	// deregister either sees it or blocks it, never neither.
	reg.active++
	reg.mu.Unlock()

	c, err := reg.provider.AttachClient(moduleID, param, bindingCtx, invoke)
	if err != nil {
		// Release the slot; a deregister that raced in may be waiting
		// on it.
		reg.clientDone()
		return nil, err
	}

	ch := &ClientHandle{reg: reg, client: c, done: make(chan struct{})}
	reg.mu.Lock()
	if reg.draining {
		// Deregistration began while this attach was in flight; its
		// snapshot of handles cannot include the client just linked,
		// so unwind it here. The unlink is synchronous, and the drain
		// completion releases the barrier slot the attach took.
		reg.mu.Unlock()
		reg.provider.DetachClient(c, func() {
			close(ch.done)
			reg.clientDone()
		})
		return nil, fmt.Errorf("hookext: hook %q is deregistering: %w", h.hookID, ErrAccessDenied)
	}
	reg.handles[c] = ch
	reg.mu.Unlock()
	return ch, nil
}

// DetachClient routes a detach notification to the provider. The call
// returns before the drain completes; ch.Done() closes exactly once
// when the client is fully gone. Detaching the same handle twice is a
// contract violation and panics.
func (r *Registrar) DetachClient(ch *ClientHandle) {
	if !r.detachIfLive(ch) {
		panic("hookext: detach through a stale client handle")
	}
}

// detachIfLive starts the detach if the handle is still live. A false
// return means another path (a racing deregister or an earlier detach)
// already claimed it.
func (r *Registrar) detachIfLive(ch *ClientHandle) bool {
	reg := ch.reg

	reg.mu.Lock()
	if _, live := reg.handles[ch.client]; !live {
		reg.mu.Unlock()
		return false
	}
	delete(reg.handles, ch.client)
	reg.mu.Unlock()

	reg.provider.DetachClient(ch.client, func() {
		close(ch.done)
		reg.clientDone()
	})
	return true
}

// DeregisterProvider detaches all remaining clients and blocks until
// every detach has completed. After it returns no client of this hook
// will ever be invoked again and the hook identity is free for reuse.
func (r *Registrar) DeregisterProvider(h *ProviderHandle) error {
	reg := h.reg

	reg.mu.Lock()
	if reg.draining {
		reg.mu.Unlock()
		return fmt.Errorf("hookext: hook %q already deregistering", h.hookID)
	}
	reg.draining = true
	remaining := make([]*ClientHandle, 0, len(reg.handles))
	for _, ch := range reg.handles {
		remaining = append(remaining, ch)
	}
	idle := reg.active == 0
	reg.mu.Unlock()

	// Provider-initiated detach of every client still attached. A
	// client-initiated detach that raced in is fine; it claims the
	// handle first and still counts toward the barrier.
	for _, ch := range remaining {
		r.detachIfLive(ch)
	}

	if !idle {
		<-reg.idle
	}

	r.mu.Lock()
	delete(r.providers, h.hookID)
	r.mu.Unlock()

	r.logger.Info("hook provider deregistered",
		zap.String("hook", h.hookID), zap.Int("clients_detached", len(remaining)))
	return nil
}

// Close deregisters every remaining provider. Used at daemon shutdown.
func (r *Registrar) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	handles := make([]*ProviderHandle, 0, len(r.providers))
	for id, reg := range r.providers {
		handles = append(handles, &ProviderHandle{hookID: id, reg: reg})
	}
	r.mu.Unlock()

	for _, h := range handles {
		if err := r.DeregisterProvider(h); err != nil {
			r.logger.Warn("deregister during close", zap.String("hook", h.hookID), zap.Error(err))
		}
	}
}

var _ Binding = (*Registrar)(nil)
