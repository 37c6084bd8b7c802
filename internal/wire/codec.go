package wire

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/cmutcp/internal/core"
)

// Decode parses a header from the front of b. A payload whose identifier is
// not Identifier yields core.ErrNotProtocolTraffic; truncated input yields
// core.ErrTooShort.
func Decode(b []byte) (Header, error) {
	h, _, err := decodeHeader(b)
	return h, err
}

// DecodeSegment parses a header and the plen - hlen payload bytes that follow
// the extension data.
func DecodeSegment(b []byte) (Segment, error) {
	h, offset, err := decodeHeader(b)
	if err != nil {
		return Segment{}, err
	}

	payloadLen := h.PayloadLen()
	if len(b) < offset+payloadLen {
		return Segment{}, fmt.Errorf("%w: payload needs %d bytes, have %d",
			core.ErrTooShort, payloadLen, len(b)-offset)
	}

	seg := Segment{Header: h}
	if payloadLen > 0 {
		seg.Payload = make([]byte, payloadLen)
		copy(seg.Payload, b[offset:offset+payloadLen])
	}
	return seg, nil
}

func decodeHeader(b []byte) (Header, int, error) {
	if len(b) < 4 {
		return Header{}, 0, fmt.Errorf("%w: %d bytes, identifier needs 4", core.ErrTooShort, len(b))
	}

	// Identifier (4 bytes at offset 0)
	id := binary.BigEndian.Uint32(b[0:4])
	if id != Identifier {
		return Header{}, 0, fmt.Errorf("%w: identifier %d", core.ErrNotProtocolTraffic, id)
	}

	if len(b) < FixedHeaderLen {
		return Header{}, 0, fmt.Errorf("%w: %d bytes, header needs %d", core.ErrTooShort, len(b), FixedHeaderLen)
	}

	h := Header{
		Identifier:       id,
		SourcePort:       binary.BigEndian.Uint16(b[4:6]),
		DestinationPort:  binary.BigEndian.Uint16(b[6:8]),
		SeqNum:           binary.BigEndian.Uint32(b[8:12]),
		AckNum:           binary.BigEndian.Uint32(b[12:16]),
		HLen:             binary.BigEndian.Uint16(b[16:18]),
		PLen:             binary.BigEndian.Uint16(b[18:20]),
		Flags:            Flags(b[20]),
		AdvertisedWindow: binary.BigEndian.Uint16(b[21:23]),
		ExtensionLength:  binary.BigEndian.Uint16(b[23:25]),
	}

	if h.PLen < h.HLen {
		return Header{}, 0, fmt.Errorf("%w: plen %d < hlen %d", core.ErrInvalidHeader, h.PLen, h.HLen)
	}

	end := FixedHeaderLen + int(h.ExtensionLength)
	if len(b) < end {
		return Header{}, 0, fmt.Errorf("%w: extension needs %d bytes, have %d",
			core.ErrTooShort, h.ExtensionLength, len(b)-FixedHeaderLen)
	}
	if h.ExtensionLength > 0 {
		h.ExtensionData = make([]byte, h.ExtensionLength)
		copy(h.ExtensionData, b[FixedHeaderLen:end])
	}

	return h, end, nil
}

// Encode serializes h. Headers with plen < hlen, or whose extension length
// disagrees with the extension data, are rejected with core.ErrInvalidHeader.
func Encode(h Header) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, FixedHeaderLen+len(h.ExtensionData))
	putHeader(buf, h)
	return buf, nil
}

// EncodeSegment serializes the header followed by the payload. The payload
// length must equal plen - hlen.
func EncodeSegment(s Segment) ([]byte, error) {
	if err := s.Header.Validate(); err != nil {
		return nil, err
	}
	if len(s.Payload) != s.Header.PayloadLen() {
		return nil, fmt.Errorf("%w: payload is %d bytes but plen - hlen = %d",
			core.ErrInvalidHeader, len(s.Payload), s.Header.PayloadLen())
	}

	buf := make([]byte, s.Len())
	n := putHeader(buf, s.Header)
	copy(buf[n:], s.Payload)
	return buf, nil
}

// putHeader writes h into buf and returns the number of bytes written.
func putHeader(buf []byte, h Header) int {
	binary.BigEndian.PutUint32(buf[0:4], h.Identifier)
	binary.BigEndian.PutUint16(buf[4:6], h.SourcePort)
	binary.BigEndian.PutUint16(buf[6:8], h.DestinationPort)
	binary.BigEndian.PutUint32(buf[8:12], h.SeqNum)
	binary.BigEndian.PutUint32(buf[12:16], h.AckNum)
	binary.BigEndian.PutUint16(buf[16:18], h.HLen)
	binary.BigEndian.PutUint16(buf[18:20], h.PLen)
	buf[20] = byte(h.Flags)
	binary.BigEndian.PutUint16(buf[21:23], h.AdvertisedWindow)
	binary.BigEndian.PutUint16(buf[23:25], h.ExtensionLength)
	return FixedHeaderLen + copy(buf[FixedHeaderLen:], h.ExtensionData)
}
