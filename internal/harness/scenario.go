package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/trace"
	"firestige.xyz/cmutcp/internal/wire"
)

// Scenario is one named conformance check. Run returns nil on pass.
type Scenario struct {
	Name string
	Run  func(ctx context.Context) error
}

// ─── Probe scenarios ───

// handshake sends SYN(seq=initial) and expects SYN|ACK with ack initial+1.
func (r *Runner) handshake(ctx context.Context) error {
	return r.endpointSession(ctx, func(ctx context.Context) error {
		_, err := r.synHandshake(ctx)
		return err
	})
}

func (r *Runner) synHandshake(ctx context.Context) (wire.Header, error) {
	r.prober.Drain(ctx)

	syn := r.prober.Segment(r.opts.InitialSeq, 0, wire.FlagSYN, nil)
	reply, err := r.prober.Exchange(ctx, syn)
	if err != nil {
		return wire.Header{}, fmt.Errorf("SYN: %w", err)
	}
	if err := ExpectSynAck(syn.Header).Check(reply.Header); err != nil {
		return wire.Header{}, fmt.Errorf("SYN: %w", err)
	}
	return reply.Header, nil
}

// basicAck completes the handshake, checks that a pure ACK draws no reply,
// then checks the ACK for one data segment carrying payload.
func (r *Runner) basicAck(payload []byte) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return r.endpointSession(ctx, func(ctx context.Context) error {
			synack, err := r.synHandshake(ctx)
			if err != nil {
				return err
			}

			seq := r.opts.InitialSeq + 1
			ack := synack.SeqNum + 1

			pureAck := r.prober.Segment(seq, ack, wire.FlagACK, nil)
			if err := r.prober.ExpectSilence(ctx, pureAck); err != nil {
				return fmt.Errorf("pure ACK: %w", err)
			}

			data := r.prober.Segment(seq, ack, wire.FlagACK, payload)
			reply, err := r.prober.Exchange(ctx, data)
			if err != nil {
				return fmt.Errorf("data: %w", err)
			}
			if err := ExpectDataAck(data, r.opts.AckBasis).Check(reply.Header); err != nil {
				return fmt.Errorf("data: %w", err)
			}
			return nil
		})
	}
}

// endpointSession scopes fn to the testing server session, when one is
// configured.
func (r *Runner) endpointSession(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.procs == nil || r.opts.TestingServer.Name == "" {
		return fn(ctx)
	}
	return withSession(ctx, r.procs, r.opts.TestingServer, fn)
}

// ─── Trace scenarios ───

// CheckMaxSize fails when the capture holds too few frames to judge, or when
// any CMU-TCP segment is longer than maxLen bytes.
func CheckMaxSize(c *trace.Capture, minPackets, maxLen int) error {
	if err := checkEvidence(c, minPackets); err != nil {
		return err
	}
	for i, p := range c.Packets {
		if _, err := p.Header(); errors.Is(err, core.ErrNotProtocolTraffic) {
			continue
		}
		if len(p.Payload) > maxLen {
			return &MismatchError{
				Context: fmt.Sprintf("datagram %d %s -> %s", i, p.Src, p.Dst),
				Mismatches: []Mismatch{{
					Field:    "segment_length",
					Expected: "<= " + strconv.Itoa(maxLen),
					Observed: strconv.Itoa(len(p.Payload)),
				}},
			}
		}
	}
	return nil
}

// CheckAcks fails unless the set of seq+payload over flag-less segments
// equals the set of ack numbers over pure ACKs. Handshake segments are not
// considered.
func CheckAcks(c *trace.Capture, minPackets int) error {
	if err := checkEvidence(c, minPackets); err != nil {
		return err
	}

	expected := map[uint32]struct{}{}
	acked := map[uint32]struct{}{}
	for _, p := range c.Packets {
		h, err := p.Header()
		if err != nil {
			continue
		}
		switch h.Flags {
		case 0:
			expected[h.SeqNum+uint32(h.PayloadLen())] = struct{}{}
		case wire.FlagACK:
			acked[h.AckNum] = struct{}{}
		}
	}

	missing := difference(expected, acked)
	extra := difference(acked, expected)
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}

	var mm []Mismatch
	if len(missing) > 0 {
		mm = append(mm, Mismatch{Field: "unacknowledged", Expected: "none", Observed: formatSet(missing)})
	}
	if len(extra) > 0 {
		mm = append(mm, Mismatch{Field: "unmatched_ack_num", Expected: "none", Observed: formatSet(extra)})
	}
	return &MismatchError{
		Context:    fmt.Sprintf("%d expected ack numbers, %d observed", len(expected), len(acked)),
		Mismatches: mm,
	}
}

func checkEvidence(c *trace.Capture, minPackets int) error {
	if c.Frames <= minPackets {
		return fmt.Errorf("%w: capture holds %d packets, need more than %d",
			core.ErrInsufficientEvidence, c.Frames, minPackets)
	}
	return nil
}

func difference(a, b map[uint32]struct{}) []uint32 {
	var out []uint32
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// formatSet lists at most 10 values.
func formatSet(vals []uint32) string {
	const limit = 10
	parts := make([]string, 0, limit+1)
	for i, v := range vals {
		if i == limit {
			parts = append(parts, fmt.Sprintf("... (%d more)", len(vals)-limit))
			break
		}
		parts = append(parts, strconv.FormatUint(uint64(v), 10))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (r *Runner) traceScenario(check func(c *trace.Capture) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		c, err := trace.ReadFile(r.opts.Trace.File)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrOrchestration, err)
		}
		return check(c)
	}
}

// ─── Transfer scenario ───

// transfer runs the server and client sessions, waits for the server to exit
// and compares the SHA-256 of the source and received files.
func (r *Runner) transfer(ctx context.Context) error {
	t := r.opts.Transfer

	if _, err := r.exec(ctx, t.ReceivedHost, "rm -f "+core.ShellQuote(t.ReceivedPath)); err != nil {
		return err
	}

	err := withSession(ctx, r.procs, t.Server, func(ctx context.Context) error {
		return withSession(ctx, r.procs, t.Client, func(ctx context.Context) error {
			return r.awaitExit(ctx, t.Server, t.PollInterval, t.Timeout)
		})
	})
	if err != nil {
		return err
	}

	received, err := r.sha256(ctx, t.ReceivedHost, t.ReceivedPath)
	if err != nil {
		return err
	}
	source, err := r.sha256(ctx, t.SourceHost, t.SourcePath)
	if err != nil {
		return err
	}
	if received != source {
		return &MismatchError{
			Context:    fmt.Sprintf("%s:%s vs %s:%s", t.SourceHost, t.SourcePath, t.ReceivedHost, t.ReceivedPath),
			Mismatches: []Mismatch{{Field: "sha256", Expected: source, Observed: received}},
		}
	}
	return nil
}

// awaitExit polls until s is no longer running.
func (r *Runner) awaitExit(ctx context.Context, s Session, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		running, err := r.procs.IsRunning(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: session %s still running after %s", core.ErrTimeout, s, timeout)
			}
			return fmt.Errorf("%w: query session %s: %v", core.ErrOrchestration, s, err)
		}
		if !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: session %s still running after %s", core.ErrTimeout, s, timeout)
		case <-ticker.C:
		}
	}
}

func (r *Runner) sha256(ctx context.Context, host, file string) (string, error) {
	res, err := r.exec(ctx, host, "sha256sum "+core.ShellQuote(file))
	if err != nil {
		return "", err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: sha256sum %s on %s printed nothing", core.ErrOrchestration, file, host)
	}
	return fields[0], nil
}

func (r *Runner) exec(ctx context.Context, host, command string) (core.ExecResult, error) {
	res, err := r.remote.Run(ctx, host, command)
	if err != nil {
		return res, fmt.Errorf("%w: %s on %s: %v", core.ErrOrchestration, command, host, err)
	}
	if !res.OK() {
		return res, fmt.Errorf("%w: %s on %s exited %d: %s",
			core.ErrOrchestration, command, host, res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}
