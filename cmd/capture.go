package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/cmutcp/internal/capture"
	"firestige.xyz/cmutcp/internal/config"
)

var (
	captureInterface string
	captureOutput    string
	captureCount     int
	captureDuration  time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record CMU-TCP traffic from an interface (Linux)",
	Long: `Record UDP traffic to or from the responder port on an interface into a
pcap file through an AF_PACKET ring. Stops on interrupt, after --count frames
or after --duration.

Examples:
  cmutcp capture -i eth1 -o capture.pcap
  cmutcp capture -i eth1 --count 200 --duration 30s`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc := cfg.Capture
		if cmd.Flags().Changed("interface") {
			cc.Interface = captureInterface
		}
		if cmd.Flags().Changed("output") {
			cc.Output = captureOutput
		}
		if cmd.Flags().Changed("count") {
			cc.Count = captureCount
		}
		if cmd.Flags().Changed("duration") {
			cc.Duration = captureDuration
		}
		return runCapture(cmd.Context(), capture.Run, cc, cfg.Roles.Responder.Port, cmd.OutOrStdout())
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureInterface, "interface", "i", "", "interface to capture on")
	captureCmd.Flags().StringVarP(&captureOutput, "output", "o", "", "pcap file to write")
	captureCmd.Flags().IntVar(&captureCount, "count", 0, "stop after this many frames (0 = unbounded)")
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 0, "stop after this long (0 = unbounded)")
}

type captureFunc func(ctx context.Context, cfg config.CaptureConfig, port uint16) (int, error)

func runCapture(ctx context.Context, run captureFunc, cc config.CaptureConfig, port uint16, out io.Writer) error {
	n, err := run(ctx, cc, port)
	if err != nil {
		return fmt.Errorf("capture on %s: %w", cc.Interface, err)
	}
	fmt.Fprintf(out, "captured %d frames on %s to %s\n", n, cc.Interface, cc.Output)
	return nil
}
