// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"fmt"
	"time"

	"github.com/mbeema/nethook/pkg/netevent"
)

// Record is one captured network event prepared for export.
type Record struct {
	Timestamp    time.Time
	Kind         string // "flow" or "drop"
	DropReason   netevent.DropReason
	SourceAddr   string
	DestAddr     string
	EventCounter uint32
	PktGroupID   uint64
	ServiceName  string
}

// FromMessage converts a decoded wire message into an export record.
func FromMessage(m *netevent.Message, serviceName string) *Record {
	r := &Record{
		Kind:         "flow",
		SourceAddr:   addrString(m.Payload.SourceIP, m.Payload.SourcePort),
		DestAddr:     addrString(m.Payload.DestIP, m.Payload.DestPort),
		EventCounter: m.Payload.EventCounter,
		PktGroupID:   m.Header.Metadata.PktGroupID,
		ServiceName:  serviceName,
	}
	if m.Header.EventID == netevent.EventDrop {
		r.Kind = "drop"
		r.DropReason = netevent.DropReason(m.Header.Metadata.DropReason)
	}
	if ts := m.Header.Metadata.Timestamp; ts != 0 {
		r.Timestamp = time.Unix(0, int64(ts))
	} else {
		r.Timestamp = time.Now()
	}
	return r
}

func addrString(ip [4]byte, port uint16) string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
}

// Body renders the record as a one-line event description.
func (r *Record) Body() string {
	if r.Kind == "drop" {
		return fmt.Sprintf("packet drop %s -> %s reason=%s", r.SourceAddr, r.DestAddr, r.DropReason)
	}
	return fmt.Sprintf("flow %s -> %s", r.SourceAddr, r.DestAddr)
}
