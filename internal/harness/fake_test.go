package harness

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/wire"
)

// fakeBehavior tweaks how fakeEndpoint answers.
type fakeBehavior struct {
	synAckSeq      uint32
	synAckSkew     uint32 // added to the ack number of SYN|ACK
	dataAckSkew    uint32 // added to the ack number of data ACKs
	ackFromSeq     bool   // acknowledge data with seq+len instead of ack+len
	replyToPureAck bool
	silent         bool
	noise          bool // send a non CMU-TCP datagram before each reply
	truncate       bool // send replies cut to 10 bytes
}

// fakeEndpoint is a loopback CMU-TCP listener: SYN draws SYN|ACK, pure ACKs
// draw nothing and data draws ACK ack+len.
type fakeEndpoint struct {
	conn     *net.UDPConn
	behavior fakeBehavior
}

func startFake(t *testing.T, b fakeBehavior) *fakeEndpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(netip.MustParseAddrPort("127.0.0.1:0")))
	require.NoError(t, err)

	f := &fakeEndpoint{conn: conn, behavior: b}
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.serve()
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	return f
}

func (f *fakeEndpoint) Addr() netip.AddrPort {
	return f.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (f *fakeEndpoint) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := f.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}
		seg, err := wire.DecodeSegment(buf[:n])
		if err != nil || f.behavior.silent {
			continue
		}

		h := seg.Header
		var reply wire.Segment
		switch {
		case h.Flags.Has(wire.FlagSYN):
			reply = wire.NewSegment(h.DestinationPort, h.SourcePort, f.behavior.synAckSeq, h.SeqNum+1+f.behavior.synAckSkew, wire.FlagsSYNACK, nil)
		case h.IsData():
			base := h.AckNum
			if f.behavior.ackFromSeq {
				base = h.SeqNum
			}
			reply = wire.NewSegment(h.DestinationPort, h.SourcePort, f.behavior.synAckSeq+1, base+uint32(len(seg.Payload))+f.behavior.dataAckSkew, wire.FlagACK, nil)
		case f.behavior.replyToPureAck:
			reply = wire.NewSegment(h.DestinationPort, h.SourcePort, f.behavior.synAckSeq+1, h.SeqNum, wire.FlagACK, nil)
		default:
			continue
		}

		if f.behavior.noise {
			f.conn.WriteToUDPAddrPort([]byte("hello, not cmutcp"), from)
		}
		b, _ := wire.EncodeSegment(reply)
		if f.behavior.truncate {
			b = b[:10]
		}
		f.conn.WriteToUDPAddrPort(b, from)
	}
}

// newTestProber connects a prober on an ephemeral loopback port to addr.
func newTestProber(t *testing.T, addr netip.AddrPort) *Prober {
	t.Helper()
	tr, err := ListenUDP(netip.MustParseAddrPort("127.0.0.1:0"), addr)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return NewProber(tr, 500*time.Millisecond, 100*time.Millisecond)
}

// MockController is a testify mock of ProcessController.
type MockController struct {
	mock.Mock
}

func (m *MockController) Start(ctx context.Context, s Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockController) Stop(ctx context.Context, s Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockController) IsRunning(ctx context.Context, s Session) (bool, error) {
	args := m.Called(ctx, s)
	return args.Bool(0), args.Error(1)
}

// MockExecutor is a testify mock of RemoteExecutor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Run(ctx context.Context, host, command string) (core.ExecResult, error) {
	args := m.Called(ctx, host, command)
	return args.Get(0).(core.ExecResult), args.Error(1)
}
