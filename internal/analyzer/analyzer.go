// Package analyzer reconstructs the number of unacknowledged CMU-TCP data
// segments over time from a packet trace.
package analyzer

import (
	"errors"
	"time"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
	"firestige.xyz/cmutcp/internal/trace"
	"firestige.xyz/cmutcp/internal/wire"
)

// Roles identifies the two sides of the traced connection by UDP port.
// An Initiator of 0 matches any peer.
type Roles struct {
	Initiator uint16
	Responder uint16
}

// Result is the outcome of one analysis pass.
type Result struct {
	Series      *Series
	Processed   int // packets that produced a sample
	NotProtocol int // packets whose identifier is not CMU-TCP
	Malformed   int // CMU-TCP packets whose header did not decode
	Ignored     int // CMU-TCP packets outside the role pair
}

// Analyzer turns a trace into an inflight series. It holds no state between
// calls, so one Analyzer may be reused.
type Analyzer struct {
	roles Roles
}

func New(roles Roles) *Analyzer {
	return &Analyzer{roles: roles}
}

// Analyze walks packets in order. Data segments sent to the responder raise
// the inflight count; ACKs sent by the responder lower it, never below zero.
// Every such packet emits a sample relative to the first one.
func (a *Analyzer) Analyze(packets []trace.Packet) Result {
	logger := log.GetLogger().WithField("responder_port", a.roles.Responder)

	var (
		res      Result
		samples  []Sample
		count    int
		haveBase bool
		base     time.Time
	)

	for i := range packets {
		p := &packets[i]

		h, err := p.Header()
		if err != nil {
			if errors.Is(err, core.ErrNotProtocolTraffic) {
				res.NotProtocol++
				metrics.AnalyzedPacketsTotal.WithLabelValues(metrics.OutcomeNotProtocol).Inc()
			} else {
				res.Malformed++
				metrics.AnalyzedPacketsTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
				if logger.IsDebugEnabled() {
					logger.WithError(err).Debugf("skipping packet %d", i)
				}
			}
			continue
		}

		switch {
		case a.toResponder(p):
			if h.IsData() {
				count++
			}
		case a.fromResponder(p):
			if h.Flags.Has(wire.FlagACK) && count > 0 {
				count--
			}
		default:
			res.Ignored++
			metrics.AnalyzedPacketsTotal.WithLabelValues(metrics.OutcomeIgnored).Inc()
			continue
		}

		if !haveBase {
			base = p.Timestamp
			haveBase = true
		}
		samples = append(samples, Sample{Elapsed: p.Timestamp.Sub(base), Count: count})
		res.Processed++
		metrics.AnalyzedPacketsTotal.WithLabelValues(metrics.OutcomeProcessed).Inc()
	}

	res.Series = newSeries(samples)
	logger.Debugf("analyzed %d packets: %d samples, %d not protocol, %d malformed, %d ignored",
		len(packets), res.Processed, res.NotProtocol, res.Malformed, res.Ignored)
	return res
}

func (a *Analyzer) toResponder(p *trace.Packet) bool {
	if p.Dst.Port() != a.roles.Responder {
		return false
	}
	return a.roles.Initiator == 0 || p.Src.Port() == a.roles.Initiator
}

func (a *Analyzer) fromResponder(p *trace.Packet) bool {
	if p.Src.Port() != a.roles.Responder {
		return false
	}
	return a.roles.Initiator == 0 || p.Dst.Port() == a.roles.Initiator
}
