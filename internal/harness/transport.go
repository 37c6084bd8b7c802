package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/trace"
)

// Transport moves raw datagrams between the harness and the endpoint.
type Transport interface {
	// Send writes one datagram to the endpoint.
	Send(ctx context.Context, b []byte) error
	// Receive returns the next datagram from the endpoint, or core.ErrTimeout
	// once timeout has elapsed.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	LocalAddr() netip.AddrPort
	RemoteAddr() netip.AddrPort
	Close() error
}

// UDPTransport is a Transport bound to a local UDP address that only accepts
// datagrams from its remote.
type UDPTransport struct {
	conn   *net.UDPConn
	local  netip.AddrPort
	remote netip.AddrPort
	buf    []byte
}

// ListenUDP binds local and targets remote.
func ListenUDP(local, remote netip.AddrPort) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", core.ErrOrchestration, local, err)
	}
	// keep the configured address; a wildcard bind reports [::]
	bound := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &UDPTransport{
		conn:   conn,
		local:  netip.AddrPortFrom(local.Addr(), bound.Port()),
		remote: remote,
		buf:    make([]byte, 65535),
	}, nil
}

func (t *UDPTransport) Send(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.conn.WriteToUDPAddrPort(b, t.remote); err != nil {
		return fmt.Errorf("%w: send to %s: %v", core.ErrOrchestration, t.remote, err)
	}
	return nil
}

func (t *UDPTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	// unblock the read when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		n, from, err := t.conn.ReadFromUDPAddrPort(t.buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, fmt.Errorf("%w: no datagram within %s", core.ErrTimeout, timeout)
			}
			return nil, fmt.Errorf("%w: receive: %v", core.ErrOrchestration, err)
		}
		if !sameEndpoint(from, t.remote) {
			continue
		}
		out := make([]byte, n)
		copy(out, t.buf[:n])
		return out, nil
	}
}

func (t *UDPTransport) LocalAddr() netip.AddrPort {
	return t.local
}

func (t *UDPTransport) RemoteAddr() netip.AddrPort {
	return t.remote
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func sameEndpoint(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().Unmap() == b.Addr().Unmap()
}

// recordingTransport appends every datagram it moves to a pcap writer.
type recordingTransport struct {
	Transport
	w *trace.Writer
}

// WithRecorder wraps t so that probes and replies are written to w.
func WithRecorder(t Transport, w *trace.Writer) Transport {
	return &recordingTransport{Transport: t, w: w}
}

func (r *recordingTransport) Send(ctx context.Context, b []byte) error {
	if err := r.Transport.Send(ctx, b); err != nil {
		return err
	}
	return r.record(r.LocalAddr(), r.RemoteAddr(), b)
}

func (r *recordingTransport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	b, err := r.Transport.Receive(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return b, r.record(r.RemoteAddr(), r.LocalAddr(), b)
}

func (r *recordingTransport) record(src, dst netip.AddrPort, b []byte) error {
	if err := r.w.WriteDatagram(time.Now(), src, dst, b); err != nil {
		return fmt.Errorf("%w: record datagram: %v", core.ErrOrchestration, err)
	}
	return nil
}
