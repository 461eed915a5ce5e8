// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package netevent

import (
	"encoding/binary"
	"fmt"
)

// EncodeHeader appends the packed header to buf and returns the result.
func EncodeHeader(buf []byte, h *PacketHeader) []byte {
	buf = append(buf, h.EventID)
	buf = binary.LittleEndian.AppendUint32(buf, h.Descriptor.OriginalLength)
	buf = binary.LittleEndian.AppendUint32(buf, h.Descriptor.LoggedLength)
	buf = binary.LittleEndian.AppendUint32(buf, h.Descriptor.MetadataLength)
	buf = binary.LittleEndian.AppendUint64(buf, h.Metadata.PktGroupID)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.PktCount)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.AppearanceCount)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.DirectionName)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.PacketType)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.ComponentID)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.EdgeID)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.FilterID)
	buf = binary.LittleEndian.AppendUint32(buf, h.Metadata.DropReason)
	buf = binary.LittleEndian.AppendUint32(buf, h.Metadata.DropLocation)
	buf = binary.LittleEndian.AppendUint16(buf, h.Metadata.ProcNum)
	buf = binary.LittleEndian.AppendUint64(buf, h.Metadata.Timestamp)
	return buf
}

// ParseHeader decodes a packed header.
func ParseHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < HeaderSize {
		return PacketHeader{}, fmt.Errorf("header too small: %d < %d", len(buf), HeaderSize)
	}
	var h PacketHeader
	h.EventID = buf[0]
	h.Descriptor.OriginalLength = binary.LittleEndian.Uint32(buf[1:5])
	h.Descriptor.LoggedLength = binary.LittleEndian.Uint32(buf[5:9])
	h.Descriptor.MetadataLength = binary.LittleEndian.Uint32(buf[9:13])
	m := &h.Metadata
	m.PktGroupID = binary.LittleEndian.Uint64(buf[13:21])
	m.PktCount = binary.LittleEndian.Uint16(buf[21:23])
	m.AppearanceCount = binary.LittleEndian.Uint16(buf[23:25])
	m.DirectionName = binary.LittleEndian.Uint16(buf[25:27])
	m.PacketType = binary.LittleEndian.Uint16(buf[27:29])
	m.ComponentID = binary.LittleEndian.Uint16(buf[29:31])
	m.EdgeID = binary.LittleEndian.Uint16(buf[31:33])
	m.FilterID = binary.LittleEndian.Uint16(buf[33:35])
	m.DropReason = binary.LittleEndian.Uint32(buf[35:39])
	m.DropLocation = binary.LittleEndian.Uint32(buf[39:43])
	m.ProcNum = binary.LittleEndian.Uint16(buf[43:45])
	m.Timestamp = binary.LittleEndian.Uint64(buf[45:53])
	return h, nil
}

// EncodePayload appends the packed payload to buf and returns the result.
func EncodePayload(buf []byte, p *Payload) []byte {
	buf = append(buf, p.SourceIP[:]...)
	buf = append(buf, p.DestIP[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, p.SourcePort)
	buf = binary.LittleEndian.AppendUint16(buf, p.DestPort)
	buf = binary.LittleEndian.AppendUint32(buf, p.EventCounter)
	return buf
}

// ParsePayload decodes a packed payload.
func ParsePayload(buf []byte) (Payload, error) {
	if len(buf) < PayloadSize {
		return Payload{}, fmt.Errorf("payload too small: %d < %d", len(buf), PayloadSize)
	}
	var p Payload
	copy(p.SourceIP[:], buf[0:4])
	copy(p.DestIP[:], buf[4:8])
	p.SourcePort = binary.LittleEndian.Uint16(buf[8:10])
	p.DestPort = binary.LittleEndian.Uint16(buf[10:12])
	p.EventCounter = binary.LittleEndian.Uint32(buf[12:16])
	return p, nil
}

// EncodeMessage encodes a complete event record.
func EncodeMessage(m *Message) []byte {
	buf := make([]byte, 0, MessageSize)
	buf = EncodeHeader(buf, &m.Header)
	buf = EncodePayload(buf, &m.Payload)
	return buf
}

// ParseMessage decodes a complete event record.
func ParseMessage(buf []byte) (*Message, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	p, err := ParsePayload(buf[HeaderSize:])
	if err != nil {
		return nil, err
	}
	return &Message{Header: h, Payload: p}, nil
}
