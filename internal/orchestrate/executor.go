// Package orchestrate runs commands on the hosts of a test setup and manages
// endpoint sessions through tmux.
package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/log"
)

// Executor runs a shell command on one host. A command that runs and exits
// non-zero is not an error; its status is in the result.
type Executor interface {
	Run(ctx context.Context, command string) (core.ExecResult, error)
	Close() error
}

// LocalExecutor runs commands through sh -c on this machine.
type LocalExecutor struct{}

func (LocalExecutor) Run(ctx context.Context, command string) (core.ExecResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children of sh may hold the pipes open after sh is killed
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	res := core.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitCode()
		return res, nil
	default:
		return res, err
	}
}

func (LocalExecutor) Close() error { return nil }

// Hosts maps host names to executors.
type Hosts map[string]Executor

// NewHosts builds an executor per configured host. SSH connections are made
// on first use.
func NewHosts(cfg map[string]config.HostConfig) (Hosts, error) {
	hosts := make(Hosts, len(cfg))
	for name, hc := range cfg {
		switch hc.Type {
		case "", "local":
			hosts[name] = LocalExecutor{}
		case "ssh":
			e, err := NewSSHExecutor(hc)
			if err != nil {
				hosts.Close()
				return nil, fmt.Errorf("host %s: %w", name, err)
			}
			hosts[name] = e
		default:
			hosts.Close()
			return nil, fmt.Errorf("%w: host %s has unknown type %q", core.ErrConfigInvalid, name, hc.Type)
		}
	}
	return hosts, nil
}

// Run executes command on the named host.
func (h Hosts) Run(ctx context.Context, host, command string) (core.ExecResult, error) {
	e, ok := h[host]
	if !ok {
		return core.ExecResult{}, fmt.Errorf("unknown host %q (configured: %s)", host, strings.Join(h.names(), ", "))
	}
	log.GetLogger().WithField("host", host).Debugf("run: %s", command)
	return e.Run(ctx, command)
}

// Close closes every executor.
func (h Hosts) Close() error {
	var errs []error
	for _, e := range h {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h Hosts) names() []string {
	names := make([]string, 0, len(h))
	for n := range h {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
