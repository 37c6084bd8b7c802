// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"strings"
)

// Role identifies one side of a CMU-TCP connection.
type Role string

const (
	RoleInitiator Role = "initiator" // the side that sends SYN and data
	RoleResponder Role = "responder" // the listener
)

// ParseRole accepts the role names used in configuration, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleInitiator:
		return RoleInitiator, nil
	case RoleResponder:
		return RoleResponder, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q (must be initiator or responder)", ErrConfigInvalid, s)
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// Endpoint is where a role lives on the network.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
	Host string // name of the host entry used for process control and remote execution
}

// AddrPort returns the UDP address of the endpoint.
func (e Endpoint) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(e.Addr, e.Port)
}

// Roles maps each role to its endpoint. It is resolved once at startup.
type Roles map[Role]Endpoint

// ExecResult is the outcome of a command run on a host.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// OK reports whether the command exited with status 0.
func (r ExecResult) OK() bool {
	return r.ExitStatus == 0
}
