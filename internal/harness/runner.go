package harness

import (
	"context"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
	"firestige.xyz/cmutcp/internal/trace"
)

// Options configures the built-in suite.
type Options struct {
	InitialSeq    uint32
	AckBasis      AckBasis
	Payloads      []string
	TestingServer Session // zero Name: the endpoint is already running
	Trace         *TraceOptions
	Transfer      *TransferOptions
}

// TraceOptions enables the trace validation scenarios.
type TraceOptions struct {
	File          string
	MinPackets    int
	MaxSegmentLen int
}

// TransferOptions enables the end-to-end transfer scenario.
type TransferOptions struct {
	Server       Session
	Client       Session
	SourceHost   string
	SourcePath   string
	ReceivedHost string
	ReceivedPath string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Runner executes scenarios strictly one after another.
type Runner struct {
	prober *Prober
	procs  ProcessController
	remote RemoteExecutor
	opts   Options
	runID  string
	logger log.Logger
}

// NewRunner wires a runner. prober may be nil when only trace scenarios run;
// procs and remote may be nil when no sessions or transfer are configured.
func NewRunner(prober *Prober, procs ProcessController, remote RemoteExecutor, opts Options) *Runner {
	runID := uuid.NewString()
	return &Runner{
		prober: prober,
		procs:  procs,
		remote: remote,
		opts:   opts,
		runID:  runID,
		logger: log.GetLogger().WithField("run_id", runID),
	}
}

// RunID identifies every result produced by this runner.
func (r *Runner) RunID() string {
	return r.runID
}

// Suite returns the built-in scenarios that the configuration enables, in
// order: handshake, basic_ack per payload, trace checks, transfer.
func (r *Runner) Suite() []Scenario {
	var scenarios []Scenario
	if r.prober != nil {
		scenarios = append(scenarios, Scenario{Name: "handshake", Run: r.handshake})
		for _, p := range r.opts.Payloads {
			scenarios = append(scenarios, Scenario{Name: "basic_ack/" + p, Run: r.basicAck([]byte(p))})
		}
	}
	scenarios = append(scenarios, r.TraceSuite()...)
	if r.opts.Transfer != nil && r.procs != nil && r.remote != nil {
		scenarios = append(scenarios, Scenario{Name: "transfer", Run: r.transfer})
	}
	return scenarios
}

// TraceSuite returns the trace validation scenarios, if a trace is configured.
func (r *Runner) TraceSuite() []Scenario {
	t := r.opts.Trace
	if t == nil || t.File == "" {
		return nil
	}
	return []Scenario{
		{Name: "trace/max_size", Run: r.traceScenario(func(c *trace.Capture) error {
			return CheckMaxSize(c, t.MinPackets, t.MaxSegmentLen)
		})},
		{Name: "trace/acks", Run: r.traceScenario(func(c *trace.Capture) error {
			return CheckAcks(c, t.MinPackets)
		})},
	}
}

// Run executes scenarios in order and hands each result to observe as soon
// as it is known. A failing scenario never stops the run.
func (r *Runner) Run(ctx context.Context, scenarios []Scenario, observe func(Result)) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			r.logger.Warnf("run cancelled before %s", sc.Name)
			break
		}

		logger := r.logger.WithField("scenario", sc.Name)
		logger.Debug("scenario started")

		started := time.Now()
		res := newResult(r.runID, sc.Name, started, sc.Run(ctx))

		metrics.ScenarioResultsTotal.WithLabelValues(sc.Name, res.Outcome()).Inc()
		metrics.ScenarioDurationSeconds.WithLabelValues(sc.Name).Observe(res.Duration.Seconds())
		if res.Passed {
			logger.Infof("passed in %s", res.Duration.Round(time.Millisecond))
		} else {
			logger.WithField("kind", res.Kind).Warnf("failed: %s", res.Diagnostic)
		}

		results = append(results, res)
		if observe != nil {
			observe(res)
		}
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
