package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
	"firestige.xyz/cmutcp/internal/orchestrate"
	"firestige.xyz/cmutcp/internal/report"
	"firestige.xyz/cmutcp/internal/trace"
)

var errScenariosFailed = errors.New("one or more scenarios failed")

var (
	probeRecord   string
	probePayloads []string
	probeTrace    string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the conformance suite against a live endpoint",
	Long: `Run the built-in scenarios against the endpoint named by the role table:
the SYN handshake, one basic acknowledgment check per payload, the trace checks
when a trace file is configured, and the file transfer when enabled.

Examples:
  cmutcp probe -c cmutcp.yml
  cmutcp probe -c cmutcp.yml --record probe.pcap
  cmutcp probe -c cmutcp.yml --payload pa --payload "pytest 1234567"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeRecord != "" {
			cfg.Harness.Record = probeRecord
		}
		if len(probePayloads) > 0 {
			cfg.Harness.Payloads = probePayloads
		}
		if probeTrace != "" {
			cfg.Trace.File = probeTrace
		}

		ctx := cmd.Context()
		env, err := newProbeEnv(ctx, cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer env.Close()

		return runSuite(ctx, env.runner, env.runner.Suite(), env.reporters, cmd.OutOrStdout())
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeRecord, "record", "", "write every probe segment to this pcap file")
	probeCmd.Flags().StringSliceVar(&probePayloads, "payload", nil, "payloads for the basic ack scenario (repeatable)")
	probeCmd.Flags().StringVar(&probeTrace, "trace", "", "also validate this pcap file")
}

// SuiteRunner is the part of harness.Runner the commands drive.
type SuiteRunner interface {
	RunID() string
	Run(ctx context.Context, scenarios []harness.Scenario, observe func(harness.Result)) []harness.Result
}

// ResultReporter hands out the per-result callback that publishes results
// as they arrive.
type ResultReporter interface {
	Observer(ctx context.Context) func(harness.Result)
}

// runSuite runs scenarios, reports each result and prints a summary line.
// It returns errScenariosFailed when any scenario failed.
func runSuite(ctx context.Context, runner SuiteRunner, scenarios []harness.Scenario, rep ResultReporter, out io.Writer) error {
	if len(scenarios) == 0 {
		return fmt.Errorf("%w: no scenarios enabled", core.ErrConfigInvalid)
	}

	results := runner.Run(ctx, scenarios, rep.Observer(ctx))

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	fmt.Fprintf(out, "run %s: %d/%d scenarios passed\n", runner.RunID(), passed, len(scenarios))

	if err := ctx.Err(); err != nil {
		return err
	}
	if !harness.AllPassed(results) {
		return errScenariosFailed
	}
	return nil
}

// probeEnv owns everything a probe run opens.
type probeEnv struct {
	runner    *harness.Runner
	reporters *report.Set
	closers   []func() error
}

func (e *probeEnv) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newProbeEnv(ctx context.Context, cfg *config.GlobalConfig, out io.Writer) (_ *probeEnv, err error) {
	env := &probeEnv{}
	defer func() {
		if err != nil {
			env.Close()
		}
	}()

	roles, err := cfg.Roles.Resolve()
	if err != nil {
		return nil, err
	}
	local, remote, err := probeEndpoints(roles, cfg.Harness.LocalRole)
	if err != nil {
		return nil, err
	}

	udp, err := harness.ListenUDP(local, remote)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, udp.Close)
	var transport harness.Transport = udp

	if cfg.Harness.Record != "" {
		w, err := trace.CreateFile(cfg.Harness.Record)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, w.Close)
		transport = harness.WithRecorder(udp, w)
	}

	hosts, err := orchestrate.NewHosts(cfg.Hosts)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, hosts.Close)

	env.reporters, err = report.NewSet(cfg.Reporters, out)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, env.reporters.Close)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Stop(ctx)
		})
	}

	opts, err := harnessOptions(cfg, roles)
	if err != nil {
		return nil, err
	}
	prober := harness.NewProber(transport, cfg.Harness.ReplyTimeout, cfg.Harness.SilenceTimeout)
	env.runner = harness.NewRunner(prober, orchestrate.NewTmuxController(hosts), hosts, opts)

	log.GetLogger().WithFields(map[string]interface{}{
		"run_id": env.runner.RunID(),
		"local":  udp.LocalAddr().String(),
		"remote": remote.String(),
	}).Info("probe ready")
	return env, nil
}

// probeEndpoints picks the harness socket and the probe target. The harness
// binds the local role's address with the initiator port and sends to the
// peer role's address at the responder port.
func probeEndpoints(roles core.Roles, localRole string) (local, remote netip.AddrPort, err error) {
	role, err := core.ParseRole(localRole)
	if err != nil {
		return local, remote, err
	}
	local = netip.AddrPortFrom(roles[role].Addr, roles[core.RoleInitiator].Port)
	remote = netip.AddrPortFrom(roles[role.Peer()].Addr, roles[core.RoleResponder].Port)
	return local, remote, nil
}

// harnessOptions maps the configuration onto the suite options.
func harnessOptions(cfg *config.GlobalConfig, roles core.Roles) (harness.Options, error) {
	basis, err := harness.ParseAckBasis(cfg.Harness.AckBasis)
	if err != nil {
		return harness.Options{}, err
	}
	role, err := core.ParseRole(cfg.Harness.LocalRole)
	if err != nil {
		return harness.Options{}, err
	}

	opts := harness.Options{
		InitialSeq: cfg.Harness.InitialSeq,
		AckBasis:   basis,
		Payloads:   cfg.Harness.Payloads,
	}
	if s := cfg.Harness.Session; s.Name != "" {
		opts.TestingServer = harness.Session{Host: roles[role.Peer()].Host, Name: s.Name, Command: s.Command}
	}
	if cfg.Trace.File != "" {
		opts.Trace = traceOptions(cfg.Trace)
	}
	if t := cfg.Harness.Transfer; t.Enabled {
		initiator, responder := roles[core.RoleInitiator].Host, roles[core.RoleResponder].Host
		opts.Transfer = &harness.TransferOptions{
			Server:       harness.Session{Host: responder, Name: t.Server.Name, Command: t.Server.Command},
			Client:       harness.Session{Host: initiator, Name: t.Client.Name, Command: t.Client.Command},
			SourceHost:   initiator,
			SourcePath:   t.SourcePath,
			ReceivedHost: responder,
			ReceivedPath: t.ReceivedPath,
			PollInterval: t.PollInterval,
			Timeout:      t.Timeout,
		}
	}
	return opts, nil
}

func traceOptions(t config.TraceConfig) *harness.TraceOptions {
	return &harness.TraceOptions{File: t.File, MinPackets: t.MinPackets, MaxSegmentLen: t.MaxSegmentLen}
}

// createOutput opens path for writing, or returns stdout when path is empty
// or "-".
func createOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
