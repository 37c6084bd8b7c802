// Package report publishes scenario results to the configured reporters.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
	"firestige.xyz/cmutcp/internal/log"
	"firestige.xyz/cmutcp/internal/metrics"
)

// Reporter publishes scenario results.
type Reporter interface {
	Name() string
	Report(ctx context.Context, res harness.Result) error
	Close() error
}

// New builds the reporter named by cfg.Type. Console reporters write to out.
func New(cfg config.ReporterConfig, out io.Writer) (Reporter, error) {
	switch cfg.Type {
	case "console":
		return NewConsole(cfg.Options, out)
	case "kafka":
		return NewKafka(cfg.Options)
	default:
		return nil, fmt.Errorf("%w: unknown reporter type %q", core.ErrConfigInvalid, cfg.Type)
	}
}

// Set fans each result out to every reporter. A failing reporter is logged
// and counted but does not stop the others.
type Set struct {
	reporters []Reporter
}

// NewSet builds one reporter per config entry. With no entries the set holds
// a text console reporter on out.
func NewSet(cfgs []config.ReporterConfig, out io.Writer) (*Set, error) {
	if len(cfgs) == 0 {
		cfgs = []config.ReporterConfig{{Type: "console"}}
	}
	s := &Set{}
	for i, c := range cfgs {
		r, err := New(c, out)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("reporter %d: %w", i, err)
		}
		s.reporters = append(s.reporters, r)
	}
	return s, nil
}

func (s *Set) Report(ctx context.Context, res harness.Result) error {
	var errs []error
	for _, r := range s.reporters {
		if err := r.Report(ctx, res); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
			log.GetLogger().WithError(err).WithField("reporter", r.Name()).Warn("report failed")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Observer adapts the set to the runner's per-result callback.
func (s *Set) Observer(ctx context.Context) func(harness.Result) {
	return func(res harness.Result) {
		_ = s.Report(ctx, res)
	}
}

func (s *Set) Close() error {
	var errs []error
	for _, r := range s.reporters {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// decodeOptions decodes reporter options into out. Durations may be given as
// strings and numbers may arrive as floats from JSON or YAML.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
