// Package wire implements the CMU-TCP segment format carried in UDP payloads.
package wire

import (
	"bytes"
	"fmt"

	"firestige.xyz/cmutcp/internal/core"
)

const (
	// Identifier marks a UDP payload as CMU-TCP traffic.
	Identifier uint32 = 15441

	// FixedHeaderLen is the size of the header without extension data.
	FixedHeaderLen = 25

	// MaxLen is the largest segment (header + payload) an endpoint may send.
	MaxLen = 1400

	// MSS is the payload capacity of a segment without extension data.
	MSS = MaxLen - FixedHeaderLen

	// maxPLen is the largest value the 16-bit plen field holds.
	maxPLen = 0xFFFF

	// DefaultAdvertisedWindow is used by crafted probe segments.
	DefaultAdvertisedWindow uint16 = 1
)

// Header is the wire record of one segment.
type Header struct {
	Identifier       uint32
	SourcePort       uint16
	DestinationPort  uint16
	SeqNum           uint32
	AckNum           uint32
	HLen             uint16 // header length
	PLen             uint16 // total segment length, payload included
	Flags            Flags
	AdvertisedWindow uint16
	ExtensionLength  uint16
	ExtensionData    []byte
}

// PayloadLen returns plen - hlen, or 0 for headers violating plen >= hlen.
func (h Header) PayloadLen() int {
	if h.PLen < h.HLen {
		return 0
	}
	return int(h.PLen - h.HLen)
}

// IsData reports whether the header describes a data segment.
func (h Header) IsData() bool {
	return h.PLen > h.HLen
}

// Validate checks the structural invariants Encode relies on.
func (h Header) Validate() error {
	if h.PLen < h.HLen {
		return fmt.Errorf("%w: plen %d < hlen %d", core.ErrInvalidHeader, h.PLen, h.HLen)
	}
	if int(h.ExtensionLength) != len(h.ExtensionData) {
		return fmt.Errorf("%w: extension_length %d but %d extension bytes",
			core.ErrInvalidHeader, h.ExtensionLength, len(h.ExtensionData))
	}
	return nil
}

// Equal compares two headers field by field. Nil and empty extension data are equal.
func (h Header) Equal(o Header) bool {
	return h.Identifier == o.Identifier &&
		h.SourcePort == o.SourcePort &&
		h.DestinationPort == o.DestinationPort &&
		h.SeqNum == o.SeqNum &&
		h.AckNum == o.AckNum &&
		h.HLen == o.HLen &&
		h.PLen == o.PLen &&
		h.Flags == o.Flags &&
		h.AdvertisedWindow == o.AdvertisedWindow &&
		h.ExtensionLength == o.ExtensionLength &&
		bytes.Equal(h.ExtensionData, o.ExtensionData)
}

func (h Header) String() string {
	return fmt.Sprintf("CMUTCP[%d->%d seq=%d ack=%d flags=%s hlen=%d plen=%d win=%d ext=%d]",
		h.SourcePort, h.DestinationPort, h.SeqNum, h.AckNum, h.Flags,
		h.HLen, h.PLen, h.AdvertisedWindow, h.ExtensionLength)
}

// Segment is a header plus its payload.
type Segment struct {
	Header  Header
	Payload []byte
}

// Len returns the number of bytes the segment occupies on the wire.
func (s Segment) Len() int {
	return FixedHeaderLen + len(s.Header.ExtensionData) + len(s.Payload)
}

// NewSegment builds a segment with identifier, hlen, plen and the advertised
// window filled in. plen saturates at 0xFFFF, so a payload that does not fit
// is rejected by EncodeSegment.
func NewSegment(src, dst uint16, seq, ack uint32, flags Flags, payload []byte) Segment {
	plen := FixedHeaderLen + len(payload)
	if plen > maxPLen {
		plen = maxPLen
	}
	return Segment{
		Header: Header{
			Identifier:       Identifier,
			SourcePort:       src,
			DestinationPort:  dst,
			SeqNum:           seq,
			AckNum:           ack,
			HLen:             FixedHeaderLen,
			PLen:             uint16(plen),
			Flags:            flags,
			AdvertisedWindow: DefaultAdvertisedWindow,
		},
		Payload: payload,
	}
}
