package harness

import (
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/wire"
)

// AckBasis selects which field of a data segment the expected ack number is
// computed from.
type AckBasis string

const (
	// AckBasisSeq expects ack = seq_num + payload length.
	AckBasisSeq AckBasis = "seq"
	// AckBasisAck expects ack = ack_num + payload length.
	AckBasisAck AckBasis = "ack"
)

func ParseAckBasis(s string) (AckBasis, error) {
	switch AckBasis(strings.ToLower(strings.TrimSpace(s))) {
	case AckBasisSeq:
		return AckBasisSeq, nil
	case AckBasisAck:
		return AckBasisAck, nil
	default:
		return "", fmt.Errorf("%w: unknown ack basis %q (must be seq or ack)", core.ErrConfigInvalid, s)
	}
}

// Expectation is the reply a probe must provoke.
type Expectation struct {
	Flags  wire.Flags
	AckNum uint32
}

// ExpectSynAck is the rule for a SYN with sequence number S: SYN|ACK, ack S+1.
func ExpectSynAck(syn wire.Header) Expectation {
	return Expectation{Flags: wire.FlagsSYNACK, AckNum: syn.SeqNum + 1}
}

// ExpectDataAck is the rule for a data segment of length L: ACK, ack base+L.
// The base is the sent ack_num unless basis is AckBasisSeq.
func ExpectDataAck(data wire.Segment, basis AckBasis) Expectation {
	base := data.Header.AckNum
	if basis == AckBasisSeq {
		base = data.Header.SeqNum
	}
	return Expectation{Flags: wire.FlagACK, AckNum: base + uint32(data.Header.PayloadLen())}
}

// Check compares reply against e. The flags must match exactly.
func (e Expectation) Check(reply wire.Header) error {
	var mm []Mismatch
	if reply.Flags != e.Flags {
		mm = append(mm, Mismatch{Field: "flags", Expected: e.Flags.String(), Observed: reply.Flags.String()})
	}
	if reply.AckNum != e.AckNum {
		mm = append(mm, Mismatch{
			Field:    "ack_num",
			Expected: strconv.FormatUint(uint64(e.AckNum), 10),
			Observed: strconv.FormatUint(uint64(reply.AckNum), 10),
		})
	}
	if len(mm) > 0 {
		return &MismatchError{Context: "reply " + reply.String(), Mismatches: mm}
	}
	return nil
}
