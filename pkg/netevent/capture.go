// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package netevent

import (
	"encoding/binary"
	"fmt"
)

// CaptureType selects which events an attached client receives.
type CaptureType uint32

const (
	CaptureAll CaptureType = iota + 1
	CaptureFlow
	CaptureDrop
	CaptureNone
)

func (t CaptureType) String() string {
	switch t {
	case CaptureAll:
		return "all"
	case CaptureFlow:
		return "flow"
	case CaptureDrop:
		return "drop"
	case CaptureNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Valid reports whether t is a defined capture type.
func (t CaptureType) Valid() bool {
	return t >= CaptureAll && t <= CaptureNone
}

// ParseCaptureType maps a config string to a capture type.
func ParseCaptureType(s string) (CaptureType, error) {
	switch s {
	case "all":
		return CaptureAll, nil
	case "flow":
		return CaptureFlow, nil
	case "drop":
		return CaptureDrop, nil
	case "none":
		return CaptureNone, nil
	default:
		return 0, fmt.Errorf("unknown capture type %q", s)
	}
}

// AttachOpts is the netevent hook's attach parameter.
type AttachOpts struct {
	CaptureType CaptureType
}

// AttachOptsSize is the fixed attach parameter size for the hook.
const AttachOptsSize = 4

// Marshal encodes the options into an attach parameter blob.
func (o AttachOpts) Marshal() []byte {
	buf := make([]byte, AttachOptsSize)
	binary.LittleEndian.PutUint32(buf, uint32(o.CaptureType))
	return buf
}

// ParseAttachOpts decodes an attach parameter blob.
func ParseAttachOpts(buf []byte) (AttachOpts, error) {
	if len(buf) != AttachOptsSize {
		return AttachOpts{}, fmt.Errorf("attach options size %d, want %d", len(buf), AttachOptsSize)
	}
	return AttachOpts{CaptureType: CaptureType(binary.LittleEndian.Uint32(buf))}, nil
}

// WildcardParameter returns the hook's reserved "match any" attach
// parameter: the zero-valued options blob. Compared byte-exact.
func WildcardParameter() []byte {
	return make([]byte, AttachOptsSize)
}
