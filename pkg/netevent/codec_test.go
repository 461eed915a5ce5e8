package netevent

import (
	"testing"
)

func sampleMessage() *Message {
	return &Message{
		Header: PacketHeader{
			EventID: EventDrop,
			Descriptor: PacketDescriptor{
				OriginalLength: 1500,
				LoggedLength:   128,
				MetadataLength: MetadataSize,
			},
			Metadata: StreamMetadata{
				PktGroupID:      0x0102030405060708,
				PktCount:        3,
				AppearanceCount: 1,
				DirectionName:   2,
				PacketType:      1,
				ComponentID:     7,
				EdgeID:          9,
				FilterID:        11,
				DropReason:      uint32(DropSecurityPolicy),
				DropLocation:    42,
				ProcNum:         4,
				Timestamp:       0x1122334455667788,
			},
		},
		Payload: Payload{
			SourceIP:     [4]byte{10, 0, 0, 1},
			DestIP:       [4]byte{192, 168, 1, 20},
			SourcePort:   443,
			DestPort:     51724,
			EventCounter: 1234,
		},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := sampleMessage()
	buf := EncodeMessage(m)

	if len(buf) != MessageSize {
		t.Fatalf("encoded size = %d, want %d", len(buf), MessageSize)
	}

	got, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if *got != *m {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, m)
	}
}

func TestParseHeaderTruncated(t *testing.T) {
	buf := EncodeMessage(sampleMessage())

	if _, err := ParseHeader(buf[:HeaderSize-1]); err == nil {
		t.Error("ParseHeader accepted a truncated buffer")
	}
	if _, err := ParseMessage(buf[:MessageSize-1]); err == nil {
		t.Error("ParseMessage accepted a truncated payload")
	}
}

func TestDropReasonNames(t *testing.T) {
	cases := []struct {
		reason DropReason
		want   string
	}{
		{DropNone, "none"},
		{DropInvalidPacket, "invalid_packet"},
		{DropSecurityPolicy, "security_policy"},
		{DropBandwidthLimit, "bandwidth_limit"},
		{DropInactiveTimeout, "inactive_timeout"},
		{DropReason(99), "unknown(99)"},
	}
	for _, c := range cases {
		if got := c.reason.String(); got != c.want {
			t.Errorf("DropReason(%d).String() = %q, want %q", c.reason, got, c.want)
		}
	}
}

func TestAttachOptsRoundTrip(t *testing.T) {
	opts := AttachOpts{CaptureType: CaptureDrop}
	buf := opts.Marshal()

	got, err := ParseAttachOpts(buf)
	if err != nil {
		t.Fatalf("ParseAttachOpts: %v", err)
	}
	if got != opts {
		t.Errorf("round trip = %+v, want %+v", got, opts)
	}

	if _, err := ParseAttachOpts([]byte{1, 2}); err == nil {
		t.Error("ParseAttachOpts accepted a short blob")
	}
}

func TestWildcardParameterIsZero(t *testing.T) {
	w := WildcardParameter()
	if len(w) != AttachOptsSize {
		t.Fatalf("wildcard size = %d, want %d", len(w), AttachOptsSize)
	}
	for i, b := range w {
		if b != 0 {
			t.Errorf("wildcard[%d] = %d, want 0", i, b)
		}
	}

	opts, err := ParseAttachOpts(w)
	if err != nil {
		t.Fatalf("ParseAttachOpts(wildcard): %v", err)
	}
	if opts.CaptureType.Valid() {
		t.Error("wildcard blob decodes to a valid capture type; it must be reserved")
	}
}

func TestParseCaptureType(t *testing.T) {
	for _, s := range []string{"all", "flow", "drop", "none"} {
		ct, err := ParseCaptureType(s)
		if err != nil {
			t.Errorf("ParseCaptureType(%q): %v", s, err)
		}
		if ct.String() != s {
			t.Errorf("ParseCaptureType(%q).String() = %q", s, ct.String())
		}
	}
	if _, err := ParseCaptureType("bogus"); err == nil {
		t.Error("ParseCaptureType accepted an unknown name")
	}
}
