// Package cmd implements the cmutcp command line using cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/log"
)

var (
	// Global flags
	configFile string

	cfg *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "cmutcp",
	Short: "Conformance harness for CMU-TCP endpoints",
	Long: `cmutcp probes a running CMU-TCP endpoint over UDP and checks its handshake
and acknowledgment behaviour, validates packet traces, and turns captures into
in-flight time series.

Commands:
  probe     run the conformance suite against a live endpoint
  validate  check a recorded trace against the segment size and ack rules
  analyze   compute the in-flight series of a trace
  capture   record CMU-TCP traffic from an interface (Linux)`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(captureCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return log.Init(cfg.Log)
}
