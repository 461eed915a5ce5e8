// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package netevent defines the wire model of the network-event hook:
// the packed packet/metadata structures streamed through the hook point,
// the capture types clients attach with, and the little-endian codec for
// both.
package netevent

import "fmt"

// Event identifiers carried in the packet header.
const (
	EventDrop uint8 = 100
	EventFlow uint8 = 101
)

// DropReason explains why the pipeline dropped a packet.
type DropReason uint32

const (
	DropNone DropReason = iota
	DropInvalidPacket
	DropSecurityPolicy
	DropBandwidthLimit
	DropInactiveTimeout
)

func (r DropReason) String() string {
	switch r {
	case DropNone:
		return "none"
	case DropInvalidPacket:
		return "invalid_packet"
	case DropSecurityPolicy:
		return "security_policy"
	case DropBandwidthLimit:
		return "bandwidth_limit"
	case DropInactiveTimeout:
		return "inactive_timeout"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(r))
	}
}

// PacketDescriptor describes the captured packet lengths.
type PacketDescriptor struct {
	OriginalLength uint32
	LoggedLength   uint32
	MetadataLength uint32
}

// StreamMetadata is the per-packet metadata streamed with each event.
type StreamMetadata struct {
	PktGroupID      uint64
	PktCount        uint16
	AppearanceCount uint16
	DirectionName   uint16
	PacketType      uint16
	ComponentID     uint16
	EdgeID          uint16
	FilterID        uint16
	DropReason      uint32
	DropLocation    uint32
	ProcNum         uint16
	Timestamp       uint64
}

// PacketHeader prefixes every streamed event.
type PacketHeader struct {
	EventID    uint8
	Descriptor PacketDescriptor
	Metadata   StreamMetadata
}

// Payload is the fixed-size event body: the flow 4-tuple plus a
// monotonically increasing counter.
type Payload struct {
	SourceIP     [4]byte
	DestIP       [4]byte
	SourcePort   uint16
	DestPort     uint16
	EventCounter uint32
}

// Message is one complete event record as streamed through the hook.
type Message struct {
	Header  PacketHeader
	Payload Payload
}

// Wire sizes of the packed structures.
const (
	DescriptorSize = 12
	MetadataSize   = 40
	HeaderSize     = 1 + DescriptorSize + MetadataSize
	PayloadSize    = 16
	MessageSize    = HeaderSize + PayloadSize
)

// Event is the caller-owned context handed to hook clients for one
// event: the decoded header plus the raw message bytes. The slice is
// only valid for the duration of the invocation.
type Event struct {
	Header  PacketHeader
	Payload []byte
}

// IsDrop reports whether the event is a packet drop.
func (e *Event) IsDrop() bool { return e.Header.EventID == EventDrop }
