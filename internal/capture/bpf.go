// Package capture records live CMU-TCP traffic from an interface into a
// pcap file that the analyzer and trace checks can read.
package capture

import (
	"golang.org/x/net/bpf"
)

// Filter assembles a classic BPF program for Ethernet frames that accepts
// unfragmented IPv4 UDP datagrams with port as source or destination. Accepted
// frames are truncated to snapLen.
func Filter(port uint16, snapLen int) ([]bpf.RawInstruction, error) {
	p := uint32(port)
	return bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                           // ethertype
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 0x0800, SkipTrue: 9}, // IPv4
		bpf.LoadAbsolute{Off: 23, Size: 1},                           // ip protocol
		bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: 17, SkipTrue: 7},     // UDP
		bpf.LoadAbsolute{Off: 20, Size: 2},                           // flags and fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 5},  // first fragment only
		bpf.LoadMemShift{Off: 14},                                    // X = ip header length
		bpf.LoadIndirect{Off: 14, Size: 2},                           // source port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipTrue: 3},
		bpf.LoadIndirect{Off: 16, Size: 2}, // destination port
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: p, SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: uint32(snapLen)},
	})
}
