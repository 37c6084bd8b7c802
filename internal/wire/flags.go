package wire

import (
	"fmt"
	"strings"
)

// Flags is the one-byte flag set of a segment.
type Flags uint8

// Control flags
const (
	FlagFIN Flags = 0x2
	FlagACK Flags = 0x4
	FlagSYN Flags = 0x8

	FlagsSYNACK = FlagSYN | FlagACK
	FlagsFINACK = FlagFIN | FlagACK
)

// Has reports whether every bit of f is set.
func (fs Flags) Has(f Flags) bool {
	return fs&f == f
}

// String renders the set as "SYN|ACK", "NONE" for an empty set, and keeps
// unknown bits as hex.
func (fs Flags) String() string {
	if fs == 0 {
		return "NONE"
	}
	var names []string
	if fs.Has(FlagSYN) {
		names = append(names, "SYN")
	}
	if fs.Has(FlagFIN) {
		names = append(names, "FIN")
	}
	if fs.Has(FlagACK) {
		names = append(names, "ACK")
	}
	if rest := fs &^ (FlagSYN | FlagFIN | FlagACK); rest != 0 {
		names = append(names, fmt.Sprintf("0x%02X", uint8(rest)))
	}
	return strings.Join(names, "|")
}

