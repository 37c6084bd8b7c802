package harness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"firestige.xyz/cmutcp/internal/core"
)

var testSession = Session{Host: "server", Name: "pytest_server", Command: "./testing_server"}

func TestWithSessionReleasesOnEveryPath(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(pc *MockController)
		fn       func(context.Context) error
		wantErr  error
		wantCall bool
	}{
		{
			name: "success",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(nil)
				pc.On("IsRunning", mock.Anything, testSession).Return(true, nil)
				pc.On("Stop", mock.Anything, testSession).Return(nil)
			},
			fn:       func(context.Context) error { return nil },
			wantCall: true,
		},
		{
			name: "scenario failure keeps its error",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(nil)
				pc.On("IsRunning", mock.Anything, testSession).Return(true, nil)
				pc.On("Stop", mock.Anything, testSession).Return(errors.New("tmux: no server running"))
			},
			fn:       func(context.Context) error { return core.ErrTimeout },
			wantErr:  core.ErrTimeout,
			wantCall: true,
		},
		{
			name: "start failure still stops",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(errors.New("duplicate session"))
				pc.On("Stop", mock.Anything, testSession).Return(nil)
			},
			fn:      func(context.Context) error { return nil },
			wantErr: core.ErrOrchestration,
		},
		{
			name: "not running after start",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(nil)
				pc.On("IsRunning", mock.Anything, testSession).Return(false, nil)
				pc.On("Stop", mock.Anything, testSession).Return(errors.New("can't find session"))
			},
			fn:      func(context.Context) error { return nil },
			wantErr: core.ErrOrchestration,
		},
		{
			name: "stop of exited session is swallowed",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(nil)
				pc.On("IsRunning", mock.Anything, testSession).Return(true, nil).Once()
				pc.On("Stop", mock.Anything, testSession).Return(errors.New("can't find session"))
				pc.On("IsRunning", mock.Anything, testSession).Return(false, nil).Once()
			},
			fn:       func(context.Context) error { return nil },
			wantCall: true,
		},
		{
			name: "stop failure of live session fails a passing scenario",
			setup: func(pc *MockController) {
				pc.On("Start", mock.Anything, testSession).Return(nil)
				pc.On("IsRunning", mock.Anything, testSession).Return(true, nil)
				pc.On("Stop", mock.Anything, testSession).Return(errors.New("permission denied"))
			},
			fn:       func(context.Context) error { return nil },
			wantErr:  core.ErrOrchestration,
			wantCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := new(MockController)
			tt.setup(pc)

			called := false
			err := withSession(context.Background(), pc, testSession, func(ctx context.Context) error {
				called = true
				return tt.fn(ctx)
			})

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCall, called)
			pc.AssertCalled(t, "Stop", mock.Anything, testSession)
			pc.AssertExpectations(t)
		})
	}
}

func TestWithSessionStopsAfterCancel(t *testing.T) {
	pc := new(MockController)
	pc.On("Start", mock.Anything, testSession).Return(nil)
	pc.On("IsRunning", mock.Anything, testSession).Return(true, nil)
	pc.On("Stop", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), testSession).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := withSession(ctx, pc, testSession, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.Canceled)
	pc.AssertExpectations(t)
}

func transferOptions() *TransferOptions {
	return &TransferOptions{
		Server:       Session{Host: "server", Name: "pytest_server", Command: "./server"},
		Client:       Session{Host: "client", Name: "pytest_client", Command: "./client"},
		SourceHost:   "client",
		SourcePath:   "/src/cmu_tcp.c",
		ReceivedHost: "server",
		ReceivedPath: "/tmp/file.c",
		PollInterval: 5 * time.Millisecond,
		Timeout:      200 * time.Millisecond,
	}
}

func transferRunner(pc *MockController, ex *MockExecutor) *Runner {
	return NewRunner(nil, pc, ex, Options{Transfer: transferOptions()})
}

func expectSessions(pc *MockController, serverExits bool) {
	opts := transferOptions()
	pc.On("Start", mock.Anything, opts.Server).Return(nil)
	pc.On("Start", mock.Anything, opts.Client).Return(nil)
	pc.On("IsRunning", mock.Anything, opts.Client).Return(true, nil)
	if serverExits {
		pc.On("IsRunning", mock.Anything, opts.Server).Return(true, nil).Times(3)
		pc.On("IsRunning", mock.Anything, opts.Server).Return(false, nil)
		pc.On("Stop", mock.Anything, opts.Server).Return(errors.New("can't find session"))
	} else {
		pc.On("IsRunning", mock.Anything, opts.Server).Return(true, nil)
		pc.On("Stop", mock.Anything, opts.Server).Return(nil)
	}
	pc.On("Stop", mock.Anything, opts.Client).Return(nil)
}

func TestTransferScenario(t *testing.T) {
	tests := []struct {
		name         string
		serverExits  bool
		sourceHash   string
		receivedHash string
		wantKind     FailureKind
	}{
		{"hashes match", true, "abc123", "abc123", KindNone},
		{"hashes differ", true, "abc123", "def456", KindFieldMismatch},
		{"server never exits", false, "", "", KindTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := new(MockController)
			ex := new(MockExecutor)
			expectSessions(pc, tt.serverExits)

			ex.On("Run", mock.Anything, "server", "rm -f '/tmp/file.c'").Return(core.ExecResult{}, nil)
			if tt.serverExits {
				ex.On("Run", mock.Anything, "server", "sha256sum '/tmp/file.c'").
					Return(core.ExecResult{Stdout: tt.receivedHash + "  /tmp/file.c\n"}, nil)
				ex.On("Run", mock.Anything, "client", "sha256sum '/src/cmu_tcp.c'").
					Return(core.ExecResult{Stdout: tt.sourceHash + "  /src/cmu_tcp.c\n"}, nil)
			}

			r := transferRunner(pc, ex)
			suite := r.Suite()
			assert.Len(t, suite, 1)
			results := r.Run(context.Background(), suite, nil)

			assert.Equal(t, "transfer", results[0].Scenario)
			assert.Equal(t, tt.wantKind, results[0].Kind, "%s", results[0])
			if tt.wantKind == KindFieldMismatch {
				assert.Equal(t, []Mismatch{{Field: "sha256", Expected: tt.sourceHash, Observed: tt.receivedHash}}, results[0].Mismatches)
			}
			pc.AssertExpectations(t)
			ex.AssertExpectations(t)
		})
	}
}

func TestTransferHashCommandFails(t *testing.T) {
	pc := new(MockController)
	ex := new(MockExecutor)
	expectSessions(pc, true)

	ex.On("Run", mock.Anything, "server", "rm -f '/tmp/file.c'").Return(core.ExecResult{}, nil)
	ex.On("Run", mock.Anything, "server", "sha256sum '/tmp/file.c'").
		Return(core.ExecResult{Stderr: "sha256sum: /tmp/file.c: No such file or directory", ExitStatus: 1}, nil)

	r := transferRunner(pc, ex)
	results := r.Run(context.Background(), r.Suite(), nil)
	assert.Equal(t, KindOrchestration, results[0].Kind)
	assert.Contains(t, results[0].Diagnostic, "No such file")
}

