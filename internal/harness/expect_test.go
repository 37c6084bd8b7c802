package harness

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/wire"
)

func TestExpectSynAck(t *testing.T) {
	syn := wire.NewSegment(1234, 15441, 1000, 0, wire.FlagSYN, nil)
	e := ExpectSynAck(syn.Header)
	assert.Equal(t, wire.FlagsSYNACK, e.Flags)
	assert.Equal(t, uint32(1001), e.AckNum)

	// sequence space wraps
	wrap := ExpectSynAck(wire.NewSegment(1, 2, 0xFFFFFFFF, 0, wire.FlagSYN, nil).Header)
	assert.Equal(t, uint32(0), wrap.AckNum)
}

func TestExpectDataAck(t *testing.T) {
	tests := []struct {
		name    string
		seq     uint32
		ack     uint32
		payload string
		basis   AckBasis
		want    uint32
	}{
		{"seq basis short payload", 1001, 5001, "pa", AckBasisSeq, 1003},
		{"seq basis 14 bytes", 1001, 5001, "pytest 1234567", AckBasisSeq, 1015},
		{"ack basis", 1001, 5001, "pa", AckBasisAck, 5003},
		{"ack basis 14 bytes", 1001, 5001, "pytest 1234567", AckBasisAck, 5015},
		{"unset basis uses ack", 1001, 5001, "pa", "", 5003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := wire.NewSegment(1234, 15441, tt.seq, tt.ack, wire.FlagACK, []byte(tt.payload))
			e := ExpectDataAck(data, tt.basis)
			assert.Equal(t, wire.FlagACK, e.Flags)
			assert.Equal(t, tt.want, e.AckNum)
		})
	}
}

func TestExpectationCheck(t *testing.T) {
	e := Expectation{Flags: wire.FlagsSYNACK, AckNum: 1001}

	ok := wire.NewSegment(15441, 1234, 7, 1001, wire.FlagsSYNACK, nil).Header
	assert.NoError(t, e.Check(ok))

	// extra flag bits are a mismatch too
	bad := wire.NewSegment(15441, 1234, 7, 1000, wire.FlagsSYNACK|wire.FlagFIN, nil).Header
	err := e.Check(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrFieldMismatch)

	var me *MismatchError
	require.True(t, errors.As(err, &me))
	require.Len(t, me.Mismatches, 2)
	assert.Equal(t, Mismatch{Field: "flags", Expected: "SYN|ACK", Observed: "SYN|FIN|ACK"}, me.Mismatches[0])
	assert.Equal(t, Mismatch{Field: "ack_num", Expected: "1001", Observed: "1000"}, me.Mismatches[1])
}

func TestParseAckBasis(t *testing.T) {
	b, err := ParseAckBasis("SEQ")
	require.NoError(t, err)
	assert.Equal(t, AckBasisSeq, b)

	b, err = ParseAckBasis("ack")
	require.NoError(t, err)
	assert.Equal(t, AckBasisAck, b)

	_, err = ParseAckBasis("window")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want FailureKind
	}{
		{nil, KindNone},
		{fmt.Errorf("SYN: %w", core.ErrTimeout), KindTimeout},
		{core.ErrUnexpectedReply, KindUnexpectedReply},
		{&MismatchError{Mismatches: []Mismatch{{Field: "x"}}}, KindFieldMismatch},
		{fmt.Errorf("reply: %w", core.ErrTooShort), KindDecodeError},
		{core.ErrInvalidHeader, KindDecodeError},
		{core.ErrInsufficientEvidence, KindInsufficientEvidence},
		{core.ErrOrchestration, KindOrchestration},
		{errors.New("unclassified"), KindOrchestration},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, kindOf(tt.err), "kindOf(%v)", tt.err)
	}
}

func TestNewResult(t *testing.T) {
	started := time.Now().Add(-time.Second)

	pass := newResult("run", "handshake", started, nil)
	assert.True(t, pass.Passed)
	assert.Equal(t, "pass", pass.Outcome())
	assert.GreaterOrEqual(t, pass.Duration, time.Second)

	mm := []Mismatch{{Field: "ack_num", Expected: "1003", Observed: "1002"}}
	fail := newResult("run", "basic_ack/pa", started, fmt.Errorf("data: %w", &MismatchError{Mismatches: mm}))
	assert.False(t, fail.Passed)
	assert.Equal(t, KindFieldMismatch, fail.Kind)
	assert.Equal(t, "field_mismatch", fail.Outcome())
	assert.Equal(t, mm, fail.Mismatches)
	assert.Contains(t, fail.Diagnostic, "ack_num: expected 1003, observed 1002")
	assert.Contains(t, fail.String(), "FAIL basic_ack/pa [field_mismatch]")
}
