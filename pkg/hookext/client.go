// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hookext

import (
	"sync/atomic"

	"github.com/mbeema/nethook/pkg/rundown"
	"github.com/mbeema/nethook/pkg/work"
)

// InvokeFunc is a client's program entry point. bindingCtx is the
// client-supplied context captured at attach time; eventCtx is owned by
// the hook-point caller for the duration of the call. The uint32 is the
// program's result code.
type InvokeFunc func(bindingCtx, eventCtx any) (uint32, error)

// Client is one attached program instance on a hook provider. It is
// created by a successful attach and stays valid until its detach
// completion fires. The provider's list holds it while it is eligible
// for invocation; after unlinking it may still be finishing in-flight
// invocations but can never start new ones.
type Client struct {
	moduleID   string
	data       []byte // attach parameter blob; nil means wildcard
	bindingCtx any
	invoke     InvokeFunc

	// providerData is hook-specific state assigned by the provider's
	// attach callback. Written only from the attach callback, before
	// the client is linked; read freely afterward.
	providerData any

	provider   *Provider
	guard      *rundown.Guard
	detachWork *work.Item
	detached   atomic.Bool
}

// ModuleID returns the client's module identity.
func (c *Client) ModuleID() string { return c.moduleID }

// Data returns the client's attach parameter blob. A nil return means
// the client attached with the wildcard parameter.
func (c *Client) Data() []byte { return c.data }

// SetProviderData stores hook-specific per-client state. Must only be
// called from the provider's attach callback.
func (c *Client) SetProviderData(v any) { c.providerData = v }

// ProviderData returns the state stored by SetProviderData.
func (c *Client) ProviderData() any { return c.providerData }

// Provider returns the provider this client is attached to.
func (c *Client) Provider() *Provider { return c.provider }

// EnterRundown takes an invocation reference on the client. A false
// return means the client is mid-detach and must be skipped without
// error. Every successful EnterRundown must be paired with
// LeaveRundown on all exit paths.
func (c *Client) EnterRundown() bool { return c.guard.Acquire() }

// LeaveRundown drops the reference taken by EnterRundown.
func (c *Client) LeaveRundown() { c.guard.Release() }

// Invoke calls the client's program entry point with the caller-owned
// event context. The caller must hold a rundown reference; invoking a
// client whose detach has completed is a contract violation.
func (c *Client) Invoke(eventCtx any) (uint32, error) {
	if c.guard.Drained() {
		panic("hookext: invoke after detach completed")
	}
	return c.invoke(c.bindingCtx, eventCtx)
}
