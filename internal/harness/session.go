package harness

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/cmutcp/internal/core"
	"firestige.xyz/cmutcp/internal/log"
)

// releaseTimeout bounds the stop issued when a scenario ends.
const releaseTimeout = 10 * time.Second

// Session is a named background process on a host.
type Session struct {
	Host    string
	Name    string
	Command string
}

func (s Session) String() string {
	return s.Host + "/" + s.Name
}

// ProcessController starts and stops endpoint sessions.
type ProcessController interface {
	Start(ctx context.Context, s Session) error
	Stop(ctx context.Context, s Session) error
	IsRunning(ctx context.Context, s Session) (bool, error)
}

// RemoteExecutor runs a shell command on a named host.
type RemoteExecutor interface {
	Run(ctx context.Context, host, command string) (core.ExecResult, error)
}

// withSession starts s, runs fn while it is up and stops it on every exit
// path. Stopping a session that already exited is not an error.
func withSession(ctx context.Context, pc ProcessController, s Session, fn func(ctx context.Context) error) (err error) {
	logger := log.GetLogger().WithField("session", s.String())

	defer func() {
		if relErr := release(ctx, pc, s, logger); relErr != nil && err == nil {
			err = relErr
		}
	}()

	if err := pc.Start(ctx, s); err != nil {
		return fmt.Errorf("%w: start session %s: %v", core.ErrOrchestration, s, err)
	}
	running, err := pc.IsRunning(ctx, s)
	if err != nil {
		return fmt.Errorf("%w: query session %s: %v", core.ErrOrchestration, s, err)
	}
	if !running {
		return fmt.Errorf("%w: session %s is not running after start", core.ErrOrchestration, s)
	}
	logger.Debug("session started")

	return fn(ctx)
}

func release(ctx context.Context, pc ProcessController, s Session, logger log.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	stopErr := pc.Stop(ctx, s)
	if stopErr == nil {
		logger.Debug("session stopped")
		return nil
	}

	running, err := pc.IsRunning(ctx, s)
	if err == nil && !running {
		logger.WithError(stopErr).Debug("session already gone")
		return nil
	}
	return fmt.Errorf("%w: stop session %s: %v", core.ErrOrchestration, s, stopErr)
}
