// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package hookext implements the hook provider / hook client attachment
// subsystem: providers own hook points on the event pipeline, clients
// are attached programs. Attachment is gated by an attach-parameter
// exclusivity rule; detachment drains in-flight invocations on a
// deferred work queue so the detach caller never blocks; a client is
// never invoked after its detach completes.
package hookext

import (
	"bytes"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/rundown"
	"github.com/mbeema/nethook/pkg/work"
)

// AttachCallback is the hook-specific policy invoked while a client is
// being attached, before it is linked. Returning an error vetoes the
// attach; everything allocated so far is unwound.
type AttachCallback func(c *Client, p *Provider) error

// DetachCallback is the hook-specific teardown invoked when a client
// begins detaching, while the client is still linked and reachable.
type DetachCallback func(c *Client)

// ProviderOptions carries the per-hook attach-parameter geometry.
type ProviderOptions struct {
	// AttachParamSize is the required size of every attach parameter
	// blob for this hook.
	AttachParamSize int

	// Wildcard is the reserved "match any" parameter value. When nil, a
	// zero blob of AttachParamSize is used.
	Wildcard []byte
}

// Provider is the per-hook-point record. It owns the ordered list of
// attached clients; the list is mutated only under the write lock and
// enumerated under the read lock. Iteration order is attach order.
type Provider struct {
	hookID     string
	logger     *zap.Logger
	attachCb   AttachCallback
	detachCb   DetachCallback
	customData any
	queue      *work.Queue

	paramSize int
	wildcard  []byte

	mu      sync.RWMutex
	clients []*Client
}

// NewProvider creates a provider for one hook point. queue receives the
// deferred drain step of every detach.
func NewProvider(hookID string, opts ProviderOptions, attach AttachCallback, detach DetachCallback, customData any, queue *work.Queue, logger *zap.Logger) (*Provider, error) {
	if attach == nil || detach == nil {
		return nil, fmt.Errorf("hookext: provider %q requires attach and detach callbacks", hookID)
	}
	if opts.AttachParamSize <= 0 {
		return nil, fmt.Errorf("hookext: provider %q requires a positive attach parameter size", hookID)
	}
	wildcard := opts.Wildcard
	if wildcard == nil {
		wildcard = make([]byte, opts.AttachParamSize)
	}
	if len(wildcard) != opts.AttachParamSize {
		return nil, fmt.Errorf("hookext: provider %q wildcard size %d != parameter size %d",
			hookID, len(wildcard), opts.AttachParamSize)
	}
	return &Provider{
		hookID:     hookID,
		logger:     logger.With(zap.String("hook", hookID)),
		attachCb:   attach,
		detachCb:   detach,
		customData: customData,
		queue:      queue,
		paramSize:  opts.AttachParamSize,
		wildcard:   wildcard,
	}, nil
}

// HookID returns the provider's hook identity.
func (p *Provider) HookID() string { return p.hookID }

// CustomData returns the opaque provider data supplied at registration.
func (p *Provider) CustomData() any { return p.customData }

// Wildcard returns the hook's wildcard attach parameter value.
func (p *Provider) Wildcard() []byte { return p.wildcard }

// AttachClient attaches a program to the hook point.
//
// The attach runs through: input validation, the exclusivity check,
// client allocation (rundown guard and detach work item), the
// hook-specific attach callback, and finally linking under the write
// lock, where the exclusivity check is re-validated so validate+link
// form one atomic check-then-act region. Any failure unwinds fully; no
// partial state survives a rejected attach.
func (p *Provider) AttachClient(moduleID string, param []byte, bindingCtx any, invoke InvokeFunc) (*Client, error) {
	if moduleID == "" {
		return nil, fmt.Errorf("hookext: empty module id: %w", ErrInvalidParameter)
	}
	if invoke == nil {
		return nil, fmt.Errorf("hookext: nil invoke entry point: %w", ErrInvalidParameter)
	}
	if param != nil && len(param) != p.paramSize {
		return nil, fmt.Errorf("hookext: attach parameter size %d, want %d: %w",
			len(param), p.paramSize, ErrInvalidParameter)
	}

	// Fast rejection under the read lock. The authoritative check runs
	// again under the write lock below.
	effective := param
	if effective == nil {
		effective = p.wildcard
	}
	if err := p.CheckAttachParameter(effective); err != nil {
		p.logger.Warn("attach rejected by exclusivity check",
			zap.String("module", moduleID), zap.Error(err))
		return nil, err
	}

	item, err := p.queue.Allocate()
	if err != nil {
		p.logger.Error("attach rejected: detach work item unavailable",
			zap.String("module", moduleID), zap.Error(err))
		return nil, fmt.Errorf("hookext: %v: %w", err, ErrResourceExhausted)
	}

	c := &Client{
		moduleID:   moduleID,
		data:       param,
		bindingCtx: bindingCtx,
		invoke:     invoke,
		provider:   p,
		guard:      rundown.NewGuard(),
		detachWork: item,
	}

	// Hook-specific setup while the client is still unlinked. A veto
	// here rejects the attach with nothing to roll back but the client
	// record itself.
	if err := p.attachCb(c, p); err != nil {
		p.logger.Warn("attach rejected by hook callback",
			zap.String("module", moduleID), zap.Error(err))
		return nil, fmt.Errorf("hookext: attach callback: %v: %w", err, ErrAccessDenied)
	}

	p.mu.Lock()
	if err := p.checkAttachParameterLocked(effective); err != nil {
		p.mu.Unlock()
		// A concurrent attach won the race between our read-locked
		// check and here. Unwind as if the first check had failed.
		p.detachCb(c)
		p.logger.Warn("attach rejected on re-validation",
			zap.String("module", moduleID), zap.Error(err))
		return nil, err
	}
	p.clients = append(p.clients, c)
	p.mu.Unlock()

	p.logger.Info("client attached",
		zap.String("module", moduleID),
		zap.Bool("wildcard", bytes.Equal(effective, p.wildcard)))
	return c, nil
}

// DetachClient begins detaching a client. The hook-specific detach
// callback runs first, while the client is still linked; the client is
// then unlinked so no new invocation can find it, and the drain step is
// queued onto the work queue. completion fires exactly once, after all
// in-flight invocations have finished. DetachClient itself returns
// without waiting for them.
//
// Detaching a client twice is a contract violation and panics.
func (p *Provider) DetachClient(c *Client, completion func()) {
	if c == nil || c.provider != p {
		panic("hookext: detach of a client not owned by this provider")
	}
	if !c.detached.CompareAndSwap(false, true) {
		panic("hookext: client detached twice")
	}

	// Teardown while the client is still reachable, so a very-last
	// invocation that raced in moments earlier sees consistent
	// hook-specific state.
	p.detachCb(c)

	p.mu.Lock()
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	moduleID := c.moduleID
	c.detachWork.Dispatch(func() {
		c.guard.Drain()
		p.logger.Info("client detach completed", zap.String("module", moduleID))
		if completion != nil {
			completion()
		}
	})
}

// FirstClient returns the first attached client, or nil. Hooks with
// single-subscriber semantics consult only this entry.
func (p *Provider) FirstClient() *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.clients) == 0 {
		return nil
	}
	return p.clients[0]
}

// NextClient returns the client attached after prev, or the first
// client when prev is nil, or nil at the end of the list. If prev has
// been unlinked in the meantime, iteration ends.
func (p *Provider) NextClient(prev *Client) *Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if prev == nil {
		if len(p.clients) == 0 {
			return nil
		}
		return p.clients[0]
	}
	for i, c := range p.clients {
		if c == prev {
			if i+1 < len(p.clients) {
				return p.clients[i+1]
			}
			return nil
		}
	}
	return nil
}

// Clients returns a snapshot of the attached clients in attach order.
// The snapshot is immutable; eligibility is still decided per client by
// EnterRundown at invocation time.
func (p *Provider) Clients() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Client, len(p.clients))
	copy(out, p.clients)
	return out
}

// ClientCount returns the number of attached clients.
func (p *Provider) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
