// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Stats tracks self-monitoring counters for the daemon.
type Stats struct {
	startTime time.Time

	EventsSeen      atomic.Int64
	EventsInvoked   atomic.Int64
	EventsFiltered  atomic.Int64
	InvokeErrors    atomic.Int64
	Attaches        atomic.Int64
	AttachRejects   atomic.Int64
	Detaches        atomic.Int64
	DrainsCompleted atomic.Int64
	EventsExported  atomic.Int64
	ExportDrops     atomic.Int64
	RingDrops       atomic.Int64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{startTime: time.Now()}
}

// Uptime returns daemon uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot is a point-in-time copy of all counters plus process
// self-metrics.
type Snapshot struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	MemoryRSSBytes  uint64  `json:"memory_rss_bytes"`
	CPUPercent      float64 `json:"cpu_percent"`
	EventsSeen      int64   `json:"events_seen"`
	EventsInvoked   int64   `json:"events_invoked"`
	EventsFiltered  int64   `json:"events_filtered"`
	InvokeErrors    int64   `json:"invoke_errors"`
	Attaches        int64   `json:"attaches"`
	AttachRejects   int64   `json:"attach_rejects"`
	Detaches        int64   `json:"detaches"`
	DrainsCompleted int64   `json:"drains_completed"`
	EventsExported  int64   `json:"events_exported"`
	ExportDrops     int64   `json:"export_drops"`
	RingDrops       int64   `json:"ring_drops"`
}

// Snapshot captures the current counters. The process self-metrics are
// best effort; lookup failures leave those fields zero.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:   s.Uptime().Seconds(),
		Goroutines:      runtime.NumGoroutine(),
		EventsSeen:      s.EventsSeen.Load(),
		EventsInvoked:   s.EventsInvoked.Load(),
		EventsFiltered:  s.EventsFiltered.Load(),
		InvokeErrors:    s.InvokeErrors.Load(),
		Attaches:        s.Attaches.Load(),
		AttachRejects:   s.AttachRejects.Load(),
		Detaches:        s.Detaches.Load(),
		DrainsCompleted: s.DrainsCompleted.Load(),
		EventsExported:  s.EventsExported.Load(),
		ExportDrops:     s.ExportDrops.Load(),
		RingDrops:       s.RingDrops.Load(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			snap.MemoryRSSBytes = mem.RSS
		}
		if pct, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
	}

	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	snap := s.Snapshot()
	var b []byte
	b = appendMetric(b, "nethook_uptime_seconds", "gauge", "Daemon uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "nethook_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "nethook_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "nethook_cpu_percent", "gauge", "Process CPU usage percent", snap.CPUPercent)
	b = appendMetric(b, "nethook_events_seen_total", "counter", "Total events entering the hook point", float64(snap.EventsSeen))
	b = appendMetric(b, "nethook_events_invoked_total", "counter", "Total client invocations", float64(snap.EventsInvoked))
	b = appendMetric(b, "nethook_events_filtered_total", "counter", "Total events filtered by capture type", float64(snap.EventsFiltered))
	b = appendMetric(b, "nethook_invoke_errors_total", "counter", "Total client invocation errors", float64(snap.InvokeErrors))
	b = appendMetric(b, "nethook_attaches_total", "counter", "Total successful client attaches", float64(snap.Attaches))
	b = appendMetric(b, "nethook_attach_rejects_total", "counter", "Total rejected client attaches", float64(snap.AttachRejects))
	b = appendMetric(b, "nethook_detaches_total", "counter", "Total client detach requests", float64(snap.Detaches))
	b = appendMetric(b, "nethook_drains_completed_total", "counter", "Total detach drains completed", float64(snap.DrainsCompleted))
	b = appendMetric(b, "nethook_events_exported_total", "counter", "Total captured events exported", float64(snap.EventsExported))
	b = appendMetric(b, "nethook_export_drops_total", "counter", "Total captured events dropped before export", float64(snap.ExportDrops))
	b = appendMetric(b, "nethook_ring_drops_total", "counter", "Total events refused by the full ring", float64(snap.RingDrops))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, '\n')
	b = append(b, "# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'g', -1, 64)
	b = append(b, '\n')
	return b
}
