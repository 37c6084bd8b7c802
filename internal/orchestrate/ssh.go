package orchestrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"firestige.xyz/cmutcp/internal/config"
	"firestige.xyz/cmutcp/internal/core"
)

// SSHExecutor runs commands on a remote host over one SSH connection.
type SSHExecutor struct {
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

func NewSSHExecutor(hc config.HostConfig) (*SSHExecutor, error) {
	var auth []ssh.AuthMethod
	if hc.KeyFile != "" {
		pem, err := os.ReadFile(hc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", hc.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if hc.Password != "" {
		auth = append(auth, ssh.Password(hc.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: ssh host %s needs a password or key_file", core.ErrConfigInvalid, hc.Address)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if hc.KnownHosts != "" {
		cb, err := knownhosts.New(hc.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	}

	port := hc.Port
	if port == 0 {
		port = 22
	}
	return &SSHExecutor{
		addr: net.JoinHostPort(hc.Address, strconv.Itoa(port)),
		config: &ssh.ClientConfig{
			User:            hc.User,
			Auth:            auth,
			HostKeyCallback: hostKey,
			Timeout:         hc.Timeout,
		},
	}, nil
}

func (e *SSHExecutor) Run(ctx context.Context, command string) (core.ExecResult, error) {
	client, err := e.dial()
	if err != nil {
		return core.ExecResult{}, err
	}
	session, err := client.NewSession()
	if err != nil {
		// the connection may have dropped; redial once
		e.reset(client)
		if client, err = e.dial(); err != nil {
			return core.ExecResult{}, err
		}
		if session, err = client.NewSession(); err != nil {
			return core.ExecResult{}, fmt.Errorf("ssh %s: new session: %w", e.addr, err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	stop := context.AfterFunc(ctx, func() {
		session.Signal(ssh.SIGKILL)
		session.Close()
	})
	defer stop()

	err = session.Run(command)
	res := core.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *ssh.ExitError
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	default:
		return res, fmt.Errorf("ssh %s: %w", e.addr, err)
	}
}

func (e *SSHExecutor) dial() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := ssh.Dial("tcp", e.addr, e.config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", e.addr, err)
	}
	e.client = client
	return client, nil
}

func (e *SSHExecutor) reset(stale *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == stale {
		e.client.Close()
		e.client = nil
	}
}

func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
