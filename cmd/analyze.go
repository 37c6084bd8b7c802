package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/cmutcp/internal/analyzer"
	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/trace"
)

var (
	analyzeFormat        string
	analyzeOutput        string
	analyzeInitiatorPort uint16
	analyzeResponderPort uint16
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pcap>",
	Short: "Compute the in-flight series of a trace",
	Long: `Walk a pcap or pcapng trace and emit, for every data segment sent to the
responder and every ACK it sends back, the elapsed time since the first such
packet and the number of unacknowledged data segments.

The responder port defaults to the role table in the configuration. Any
peer port counts as the initiator unless --initiator-port is set.

Examples:
  cmutcp analyze capture.pcap
  cmutcp analyze capture.pcap --format json -o inflight.json
  cmutcp analyze capture.pcap --responder-port 15441 --initiator-port 1234`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roles := analyzer.Roles{Responder: cfg.Roles.Responder.Port}
		if cmd.Flags().Changed("initiator-port") {
			roles.Initiator = analyzeInitiatorPort
		}
		if cmd.Flags().Changed("responder-port") {
			roles.Responder = analyzeResponderPort
		}

		out, closeOut, err := createOutput(analyzeOutput, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if err := runAnalyze(args[0], roles, analyzeFormat, out); err != nil {
			closeOut()
			return err
		}
		return closeOut()
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "csv", "output format: csv, json or yaml")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "output file (stdout when empty)")
	analyzeCmd.Flags().Uint16Var(&analyzeInitiatorPort, "initiator-port", 0, "initiator UDP port, 0 matches any")
	analyzeCmd.Flags().Uint16Var(&analyzeResponderPort, "responder-port", 0, "responder UDP port")
}

func runAnalyze(path string, roles analyzer.Roles, format string, out io.Writer) error {
	switch format {
	case "csv", "json", "yaml":
	default:
		return fmt.Errorf("%w: format %q (must be csv, json or yaml)", core.ErrConfigInvalid, format)
	}

	c, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	res := analyzer.New(roles).Analyze(c.Packets)

	log.GetLogger().WithFields(map[string]interface{}{
		"frames":       c.Frames,
		"processed":    res.Processed,
		"not_protocol": res.NotProtocol,
		"malformed":    res.Malformed,
		"ignored":      res.Ignored,
		"peak":         res.Series.Peak(),
	}).Info("trace analyzed")

	return res.Series.Export(out, format)
}
