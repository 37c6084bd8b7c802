package orchestrate

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"firestige.xyz/cmutcp/internal/config"
)

// startSSHServer serves exec requests on loopback. The command "fail" exits 3
// with output on stderr; anything else echoes the command back.
func startSSHServer(t *testing.T) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "vagrant" && string(pass) == "vagrant" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range creqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					req.Reply(false, nil)
					return
				}
				req.Reply(true, nil)

				var status uint32
				if payload.Command == "fail" {
					fmt.Fprint(ch.Stderr(), "boom")
					status = 3
				} else {
					fmt.Fprint(ch, "ran: "+payload.Command)
				}
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestSSHExecutor(t *testing.T) {
	host, port := startSSHServer(t)

	e, err := NewSSHExecutor(config.HostConfig{
		Type: "ssh", Address: host, Port: port,
		User: "vagrant", Password: "vagrant", Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()

	res, err := e.Run(ctx, "tmux has-session -t 'pytest_server'")
	require.NoError(t, err)
	assert.Equal(t, "ran: tmux has-session -t 'pytest_server'", res.Stdout)
	assert.True(t, res.OK())

	res, err = e.Run(ctx, "fail")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitStatus)
	assert.Equal(t, "boom", res.Stderr)

	// the connection is reused across sessions and after Close a new one is dialed
	require.NoError(t, e.Close())
	res, err = e.Run(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "ran: again", res.Stdout)
}

func TestSSHExecutorAuthFailure(t *testing.T) {
	host, port := startSSHServer(t)

	e, err := NewSSHExecutor(config.HostConfig{
		Type: "ssh", Address: host, Port: port,
		User: "vagrant", Password: "wrong", Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), net.JoinHostPort(host, strconv.Itoa(port)))
}

func TestNewSSHExecutorKeyFile(t *testing.T) {
	_, err := NewSSHExecutor(config.HostConfig{Type: "ssh", Address: "10.0.1.1", KeyFile: "/no/such/key"})
	assert.Error(t, err)
}
