package orchestrate

import (
	"context"
	"fmt"
	"strings"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/harness"
)

// TmuxController manages endpoint sessions as detached tmux sessions.
type TmuxController struct {
	hosts harness.RemoteExecutor
}

func NewTmuxController(hosts harness.RemoteExecutor) *TmuxController {
	return &TmuxController{hosts: hosts}
}

func (c *TmuxController) Start(ctx context.Context, s harness.Session) error {
	return c.run(ctx, s, fmt.Sprintf("tmux new -s %s -d %s", core.ShellQuote(s.Name), core.ShellQuote(s.Command)))
}

func (c *TmuxController) Stop(ctx context.Context, s harness.Session) error {
	return c.run(ctx, s, "tmux kill-session -t "+core.ShellQuote(s.Name))
}

// IsRunning maps the exit status of tmux has-session: 0 running, 1 gone.
func (c *TmuxController) IsRunning(ctx context.Context, s harness.Session) (bool, error) {
	res, err := c.hosts.Run(ctx, s.Host, "tmux has-session -t "+core.ShellQuote(s.Name))
	if err != nil {
		return false, err
	}
	switch res.ExitStatus {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("tmux has-session -t %s exited %d: %s", s.Name, res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
}

func (c *TmuxController) run(ctx context.Context, s harness.Session, command string) error {
	res, err := c.hosts.Run(ctx, s.Host, command)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("%s exited %d: %s", command, res.ExitStatus, strings.TrimSpace(res.Stderr))
	}
	return nil
}
