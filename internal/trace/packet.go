// Package trace reads and writes packet captures of CMU-TCP traffic.
package trace

import (
	"net/netip"
	"time"

	"firestige.xyz/cmutcp/internal/wire"
)

// Packet is one UDP datagram taken from a capture, in capture order.
type Packet struct {
	Timestamp time.Time
	Src       netip.AddrPort
	Dst       netip.AddrPort
	Payload   []byte // UDP payload
	Length    int    // original frame length
}

// Header decodes the CMU-TCP header carried in the payload.
func (p Packet) Header() (wire.Header, error) {
	return wire.Decode(p.Payload)
}

// Segment decodes the CMU-TCP header and payload.
func (p Packet) Segment() (wire.Segment, error) {
	return wire.DecodeSegment(p.Payload)
}

// Capture is the result of reading a trace file.
type Capture struct {
	Packets []Packet // UDP datagrams
	Frames  int      // every frame in the file, UDP or not
}
