package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
	"firestige.xyz/cmutcp/internal/wire"
)

// drainWindow bounds how long stale datagrams are read off before a scenario.
const drainWindow = 5 * time.Millisecond

// Prober crafts segments, sends them and waits for the endpoint's reply.
type Prober struct {
	transport      Transport
	replyTimeout   time.Duration
	silenceTimeout time.Duration
	logger         log.Logger
}

func NewProber(t Transport, replyTimeout, silenceTimeout time.Duration) *Prober {
	return &Prober{
		transport:      t,
		replyTimeout:   replyTimeout,
		silenceTimeout: silenceTimeout,
		logger: log.GetLogger().WithFields(map[string]interface{}{
			"local":  t.LocalAddr().String(),
			"remote": t.RemoteAddr().String(),
		}),
	}
}

// Segment builds a well-formed segment addressed from the local to the
// remote port.
func (p *Prober) Segment(seq, ack uint32, flags wire.Flags, payload []byte) wire.Segment {
	return wire.NewSegment(p.transport.LocalAddr().Port(), p.transport.RemoteAddr().Port(), seq, ack, flags, payload)
}

// Exchange sends seg and returns the first CMU-TCP reply within the reply
// timeout. Datagrams that are not CMU-TCP are skipped.
func (p *Prober) Exchange(ctx context.Context, seg wire.Segment) (wire.Segment, error) {
	if err := p.send(ctx, seg); err != nil {
		return wire.Segment{}, err
	}
	reply, err := p.await(ctx, p.replyTimeout)
	if err != nil {
		return wire.Segment{}, fmt.Errorf("awaiting reply to %s: %w", seg.Header, err)
	}
	return reply, nil
}

// ExpectSilence sends seg and fails if any CMU-TCP datagram arrives before
// the silence timeout.
func (p *Prober) ExpectSilence(ctx context.Context, seg wire.Segment) error {
	if err := p.send(ctx, seg); err != nil {
		return err
	}
	reply, err := p.await(ctx, p.silenceTimeout)
	switch {
	case errors.Is(err, core.ErrTimeout):
		return nil
	case core.IsDecodeError(err):
		return fmt.Errorf("%w: malformed segment within %s of %s: %v",
			core.ErrUnexpectedReply, p.silenceTimeout, seg.Header, err)
	case err != nil:
		return err
	default:
		return fmt.Errorf("%w: %s within %s of %s",
			core.ErrUnexpectedReply, reply.Header, p.silenceTimeout, seg.Header)
	}
}

// Drain discards datagrams left over from an earlier exchange.
func (p *Prober) Drain(ctx context.Context) {
	for {
		b, err := p.transport.Receive(ctx, drainWindow)
		if err != nil {
			return
		}
		p.logger.Debugf("discarded stale datagram of %d bytes", len(b))
	}
}

func (p *Prober) send(ctx context.Context, seg wire.Segment) error {
	b, err := wire.EncodeSegment(seg)
	if err != nil {
		return err
	}
	if err := p.transport.Send(ctx, b); err != nil {
		return err
	}
	metrics.ProbeSegmentsTotal.WithLabelValues(metrics.DirectionSent).Inc()
	p.logger.Debugf("sent %s", seg.Header)
	return nil
}

// await reads until a CMU-TCP segment arrives or timeout elapses.
func (p *Prober) await(ctx context.Context, timeout time.Duration) (wire.Segment, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return wire.Segment{}, fmt.Errorf("%w: no reply within %s", core.ErrTimeout, timeout)
		}
		b, err := p.transport.Receive(ctx, remaining)
		if err != nil {
			if errors.Is(err, core.ErrTimeout) {
				return wire.Segment{}, fmt.Errorf("%w: no reply within %s", core.ErrTimeout, timeout)
			}
			return wire.Segment{}, err
		}

		seg, err := wire.DecodeSegment(b)
		if errors.Is(err, core.ErrNotProtocolTraffic) {
			p.logger.Debugf("skipping %d-byte datagram that is not CMU-TCP", len(b))
			continue
		}
		if err != nil {
			return wire.Segment{}, err
		}
		metrics.ProbeSegmentsTotal.WithLabelValues(metrics.DirectionReceived).Inc()
		p.logger.Debugf("received %s", seg.Header)
		return seg, nil
	}
}
