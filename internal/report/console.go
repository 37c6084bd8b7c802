package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
)

// ConsoleReporter prints results as text lines or JSON objects.
type ConsoleReporter struct {
	format string

	mu  sync.Mutex
	out io.Writer
}

type consoleOptions struct {
	Format string `mapstructure:"format"`
}

func NewConsole(opts map[string]any, out io.Writer) (*ConsoleReporter, error) {
	o := consoleOptions{Format: "text"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Format != "text" && o.Format != "json" {
		return nil, fmt.Errorf("%w: console format %q, must be text or json", core.ErrConfigInvalid, o.Format)
	}
	return &ConsoleReporter{format: o.Format, out: out}, nil
}

func (r *ConsoleReporter) Name() string { return "console" }

func (r *ConsoleReporter) Report(ctx context.Context, res harness.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.format == "json" {
		return json.NewEncoder(r.out).Encode(res)
	}

	if _, err := fmt.Fprintln(r.out, res.String()); err != nil {
		return err
	}
	for _, m := range res.Mismatches {
		if _, err := fmt.Fprintf(r.out, "    %s\n", m); err != nil {
			return err
		}
	}
	return nil
}

func (r *ConsoleReporter) Close() error { return nil }
