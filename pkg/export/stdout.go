// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// StdoutExporter prints captured events to stdout for debugging.
type StdoutExporter struct {
	format string // "text" or "json"
	logger *zap.Logger
}

// NewStdoutExporter creates a new stdout exporter.
func NewStdoutExporter(format string, logger *zap.Logger) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	return &StdoutExporter{
		format: format,
		logger: logger,
	}
}

// ExportEvents prints captured events to stdout.
func (e *StdoutExporter) ExportEvents(ctx context.Context, events []*Record) error {
	for _, r := range events {
		if e.format == "json" {
			e.printJSON(r)
		} else {
			e.printText(r)
		}
	}
	return nil
}

func (e *StdoutExporter) printText(r *Record) {
	if r.Kind == "drop" {
		fmt.Fprintf(os.Stdout,
			"[DROP] %s %s -> %s reason=%s counter=%d group=%d\n",
			r.Timestamp.Format(time.RFC3339Nano),
			r.SourceAddr, r.DestAddr, r.DropReason,
			r.EventCounter, r.PktGroupID,
		)
		return
	}
	fmt.Fprintf(os.Stdout,
		"[FLOW] %s %s -> %s counter=%d group=%d\n",
		r.Timestamp.Format(time.RFC3339Nano),
		r.SourceAddr, r.DestAddr,
		r.EventCounter, r.PktGroupID,
	)
}

func (e *StdoutExporter) printJSON(r *Record) {
	data := map[string]interface{}{
		"_type":       "netevent",
		"timestamp":   r.Timestamp.Format(time.RFC3339Nano),
		"kind":        r.Kind,
		"source":      r.SourceAddr,
		"destination": r.DestAddr,
		"counter":     r.EventCounter,
		"group_id":    r.PktGroupID,
		"service":     r.ServiceName,
	}
	if r.Kind == "drop" {
		data["drop_reason"] = r.DropReason.String()
	}
	b, _ := json.Marshal(data)
	fmt.Fprintf(os.Stdout, "%s\n", b)
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}
