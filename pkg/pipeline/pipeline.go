// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package pipeline drives network events through the netevent hook
// point: it registers the hook provider, decides per client whether an
// event matches the client's capture type, and invokes every eligible
// attached program.
package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/mbeema/nethook/pkg/health"
	"github.com/mbeema/nethook/pkg/hookext"
	"github.com/mbeema/nethook/pkg/netevent"
)

// HookNetEvent is the hook identity of the network-event hook point.
const HookNetEvent = "netevent_event"

// Register publishes the netevent hook point on the binding mechanism.
// The attach callback decodes the client's capture options and stores
// the capture type as provider data; an undecodable or undefined
// capture type vetoes the attach.
func Register(b hookext.Binding, logger *zap.Logger) (*hookext.ProviderHandle, error) {
	opts := hookext.ProviderOptions{
		AttachParamSize: netevent.AttachOptsSize,
		Wildcard:        netevent.WildcardParameter(),
	}
	attach := func(c *hookext.Client, p *hookext.Provider) error {
		ct, err := captureTypeOf(c.Data())
		if err != nil {
			return err
		}
		c.SetProviderData(ct)
		return nil
	}
	detach := func(c *hookext.Client) {
		ct, _ := c.ProviderData().(netevent.CaptureType)
		logger.Debug("netevent client detaching",
			zap.String("module", c.ModuleID()),
			zap.String("capture_type", ct.String()))
	}
	return b.RegisterProvider(HookNetEvent, opts, attach, detach, nil)
}

// captureTypeOf maps an attach parameter blob to the client's capture
// type. A nil blob and the zero-valued options blob both mean the
// wildcard, which captures everything.
func captureTypeOf(param []byte) (netevent.CaptureType, error) {
	if param == nil {
		return netevent.CaptureAll, nil
	}
	opts, err := netevent.ParseAttachOpts(param)
	if err != nil {
		return 0, err
	}
	if opts.CaptureType == 0 {
		return netevent.CaptureAll, nil
	}
	if !opts.CaptureType.Valid() {
		return 0, fmt.Errorf("capture type %d not defined", uint32(opts.CaptureType))
	}
	return opts.CaptureType, nil
}

// wantsEvent reports whether a client with the given capture type
// receives the event.
func wantsEvent(ct netevent.CaptureType, ev *netevent.Event) bool {
	switch ct {
	case netevent.CaptureAll:
		return true
	case netevent.CaptureFlow:
		return !ev.IsDrop()
	case netevent.CaptureDrop:
		return ev.IsDrop()
	default:
		return false
	}
}

// Dispatcher is the hook-point execution path: it fans one event out to
// every attached client whose capture type matches.
type Dispatcher struct {
	provider *hookext.Provider
	stats    *health.Stats
	logger   *zap.Logger
}

// NewDispatcher creates the execution path for a registered netevent
// hook point.
func NewDispatcher(h *hookext.ProviderHandle, stats *health.Stats, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		provider: h.Provider(),
		stats:    stats,
		logger:   logger,
	}
}

// Dispatch invokes every eligible client with the event. A client
// mid-detach is skipped silently. All eligible clients are invoked
// even when an earlier one fails; the first error and its result code
// win. With no error the result code of the last invocation is
// returned, zero when no client was invoked.
func (d *Dispatcher) Dispatch(ev *netevent.Event) (uint32, error) {
	d.stats.EventsSeen.Add(1)

	var result uint32
	var firstErr error
	for _, c := range d.provider.Clients() {
		if !c.EnterRundown() {
			continue
		}
		ct, _ := c.ProviderData().(netevent.CaptureType)
		if !wantsEvent(ct, ev) {
			c.LeaveRundown()
			d.stats.EventsFiltered.Add(1)
			continue
		}
		rc, err := d.invoke(c, ev)
		d.stats.EventsInvoked.Add(1)
		if err != nil {
			d.stats.InvokeErrors.Add(1)
			d.logger.Warn("client invocation failed",
				zap.String("module", c.ModuleID()), zap.Error(err))
			if firstErr == nil {
				firstErr = err
				result = rc
			}
			continue
		}
		if firstErr == nil {
			result = rc
		}
	}
	return result, firstErr
}

// invoke runs one client under its rundown reference. The reference is
// dropped on every exit path, a panicking program included.
func (d *Dispatcher) invoke(c *hookext.Client, ev *netevent.Event) (uint32, error) {
	defer c.LeaveRundown()
	return c.Invoke(ev)
}
