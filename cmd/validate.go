package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/cmutcp/internal/harness"
	"firestige.xyz/cmutcp/internal/report"
)

var (
	validateMinPackets int
	validateMaxLen     int
)

var validateCmd = &cobra.Command{
	Use:   "validate <pcap>",
	Short: "Check a recorded trace against the segment size and ack rules",
	Long: `Validate a pcap or pcapng trace without contacting any endpoint:

  trace/max_size  no CMU-TCP segment exceeds the maximum segment length
  trace/acks      every data segment's seq + payload length is acknowledged,
                  and every ACK number matches some data segment

The trace must hold more frames than the evidence minimum.

Examples:
  cmutcp validate capture.pcap
  cmutcp validate capture.pcapng --min-packets 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc := cfg.Trace
		tc.File = args[0]
		if cmd.Flags().Changed("min-packets") {
			tc.MinPackets = validateMinPackets
		}
		if cmd.Flags().Changed("max-len") {
			tc.MaxSegmentLen = validateMaxLen
		}

		reporters, err := report.NewSet(cfg.Reporters, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer reporters.Close()

		runner := harness.NewRunner(nil, nil, nil, harness.Options{Trace: traceOptions(tc)})
		return runSuite(cmd.Context(), runner, runner.TraceSuite(), reporters, cmd.OutOrStdout())
	},
}

func init() {
	validateCmd.Flags().IntVar(&validateMinPackets, "min-packets", 0, "frames the trace must exceed")
	validateCmd.Flags().IntVar(&validateMaxLen, "max-len", 0, "maximum CMU-TCP segment length")
}
