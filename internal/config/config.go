// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/cmutcp/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `cmutcp:` root key in YAML.
type GlobalConfig struct {
	Log       LogConfig             `mapstructure:"log"`
	Roles     RolesConfig           `mapstructure:"roles"`
	Hosts     map[string]HostConfig `mapstructure:"hosts"`
	Harness   HarnessConfig         `mapstructure:"harness"`
	Trace     TraceConfig           `mapstructure:"trace"`
	Capture   CaptureConfig         `mapstructure:"capture"`
	Reporters []ReporterConfig      `mapstructure:"reporters"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
}

// ─── Roles ───

// RolesConfig is the role → address/port table.
type RolesConfig struct {
	Initiator EndpointConfig `mapstructure:"initiator"`
	Responder EndpointConfig `mapstructure:"responder"`
}

// EndpointConfig locates one role on the network.
type EndpointConfig struct {
	Address string `mapstructure:"address"`
	Port    uint16 `mapstructure:"port"`
	Host    string `mapstructure:"host"` // key into hosts
}

// Resolve parses the table into core.Roles.
func (r RolesConfig) Resolve() (core.Roles, error) {
	roles := make(core.Roles, 2)
	for role, ep := range map[core.Role]EndpointConfig{
		core.RoleInitiator: r.Initiator,
		core.RoleResponder: r.Responder,
	} {
		addr, err := netip.ParseAddr(ep.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: roles.%s.address %q: %v", core.ErrConfigInvalid, role, ep.Address, err)
		}
		roles[role] = core.Endpoint{Addr: addr, Port: ep.Port, Host: ep.Host}
	}
	return roles, nil
}

// ─── Hosts ───

// HostConfig describes how commands reach a host.
type HostConfig struct {
	Type       string        `mapstructure:"type"` // local | ssh
	Address    string        `mapstructure:"address"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	KeyFile    string        `mapstructure:"key_file"`
	KnownHosts string        `mapstructure:"known_hosts"` // empty = accept any host key
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ─── Harness ───

// HarnessConfig drives the conformance suite.
type HarnessConfig struct {
	LocalRole      string         `mapstructure:"local_role"`
	ReplyTimeout   time.Duration  `mapstructure:"reply_timeout"`
	SilenceTimeout time.Duration  `mapstructure:"silence_timeout"`
	AckBasis       string         `mapstructure:"ack_basis"` // seq | ack
	InitialSeq     uint32         `mapstructure:"initial_seq"`
	Payloads       []string       `mapstructure:"payloads"`
	Session        SessionConfig  `mapstructure:"session"`
	Record         string         `mapstructure:"record"` // pcap path, empty = off
	Transfer       TransferConfig `mapstructure:"transfer"`
}

// SessionConfig names a background session and the command it runs.
type SessionConfig struct {
	Name    string `mapstructure:"name"`
	Command string `mapstructure:"command"`
}

// TransferConfig configures the end-to-end file transfer scenario.
type TransferConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Server       SessionConfig `mapstructure:"server"`
	Client       SessionConfig `mapstructure:"client"`
	SourcePath   string        `mapstructure:"source_path"`   // on the initiator host
	ReceivedPath string        `mapstructure:"received_path"` // on the responder host
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ─── Trace ───

// TraceConfig configures trace validation and analysis.
type TraceConfig struct {
	File          string `mapstructure:"file"`
	MinPackets    int    `mapstructure:"min_packets"`
	MaxSegmentLen int    `mapstructure:"max_segment_len"`
}

// ─── Capture ───

// CaptureConfig configures live AF_PACKET capture.
type CaptureConfig struct {
	Interface string        `mapstructure:"interface"`
	Output    string        `mapstructure:"output"`
	SnapLen   int           `mapstructure:"snap_len"`
	BufferMB  int           `mapstructure:"buffer_mb"` // ring buffer size
	Count     int           `mapstructure:"count"`    // 0 = unbounded
	Duration  time.Duration `mapstructure:"duration"` // 0 = unbounded
}

// ─── Reporters ───

// ReporterConfig selects a result reporter; options are decoded by the reporter.
type ReporterConfig struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:"options"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level"`  // trace / debug / info / warn / error
	Format     string           `mapstructure:"format"` // pattern / json / prefixed
	Pattern    string           `mapstructure:"pattern"`
	TimeFormat string           `mapstructure:"time_format"`
	File       FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `cmutcp: ...`.
type configRoot struct {
	CMUTCP GlobalConfig `mapstructure:"cmutcp"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `cmutcp:` as root key; env vars use the CMUTCP_ prefix
// (e.g., CMUTCP_HARNESS_REPLY_TIMEOUT).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "cmutcp.log.level" → env "CMUTCP_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.CMUTCP

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// defaults are static; a failure here is a programming error
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use "cmutcp." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("cmutcp.log.level", "info")
	v.SetDefault("cmutcp.log.format", "pattern")
	v.SetDefault("cmutcp.log.pattern", "%time [%level] %field %msg\n")
	v.SetDefault("cmutcp.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("cmutcp.log.file.enabled", false)
	v.SetDefault("cmutcp.log.file.path", "/var/log/cmutcp/cmutcp.log")
	v.SetDefault("cmutcp.log.file.rotation.max_size_mb", 100)
	v.SetDefault("cmutcp.log.file.rotation.max_age_days", 30)
	v.SetDefault("cmutcp.log.file.rotation.max_backups", 5)
	v.SetDefault("cmutcp.log.file.rotation.compress", true)

	// Role defaults follow the two-VM course setup
	v.SetDefault("cmutcp.roles.initiator.address", "10.0.1.2")
	v.SetDefault("cmutcp.roles.initiator.port", 1234)
	v.SetDefault("cmutcp.roles.initiator.host", "client")
	v.SetDefault("cmutcp.roles.responder.address", "10.0.1.1")
	v.SetDefault("cmutcp.roles.responder.port", 15441)
	v.SetDefault("cmutcp.roles.responder.host", "server")

	// Harness defaults
	v.SetDefault("cmutcp.harness.local_role", "initiator")
	v.SetDefault("cmutcp.harness.reply_timeout", "3s")
	v.SetDefault("cmutcp.harness.silence_timeout", "500ms")
	v.SetDefault("cmutcp.harness.ack_basis", "ack")
	v.SetDefault("cmutcp.harness.initial_seq", 1000)
	v.SetDefault("cmutcp.harness.payloads", []string{"pa", "pytest 1234567"})
	v.SetDefault("cmutcp.harness.session.name", "pytest_server")
	v.SetDefault("cmutcp.harness.session.command", "/vagrant/project-2_15-441/tests/testing_server")
	v.SetDefault("cmutcp.harness.record", "")
	v.SetDefault("cmutcp.harness.transfer.enabled", false)
	v.SetDefault("cmutcp.harness.transfer.server.name", "pytest_server")
	v.SetDefault("cmutcp.harness.transfer.server.command", "/vagrant/project-2_15-441/server")
	v.SetDefault("cmutcp.harness.transfer.client.name", "pytest_client")
	v.SetDefault("cmutcp.harness.transfer.client.command", "/vagrant/project-2_15-441/client")
	v.SetDefault("cmutcp.harness.transfer.source_path", "/vagrant/project-2_15-441/src/cmu_tcp.c")
	v.SetDefault("cmutcp.harness.transfer.received_path", "/tmp/file.c")
	v.SetDefault("cmutcp.harness.transfer.poll_interval", "1s")
	v.SetDefault("cmutcp.harness.transfer.timeout", "5m")

	// Trace defaults
	v.SetDefault("cmutcp.trace.file", "")
	v.SetDefault("cmutcp.trace.min_packets", 10)
	v.SetDefault("cmutcp.trace.max_segment_len", 1400)

	// Capture defaults
	v.SetDefault("cmutcp.capture.interface", "eth1")
	v.SetDefault("cmutcp.capture.output", "capture.pcap")
	v.SetDefault("cmutcp.capture.snap_len", 65536)
	v.SetDefault("cmutcp.capture.buffer_mb", 8)
	v.SetDefault("cmutcp.capture.count", 0)
	v.SetDefault("cmutcp.capture.duration", "0s")

	// Metrics defaults
	v.SetDefault("cmutcp.metrics.enabled", false)
	v.SetDefault("cmutcp.metrics.listen", ":9091")
	v.SetDefault("cmutcp.metrics.path", "/metrics")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be trace/debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "pattern", "json", "prefixed":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be pattern/json/prefixed)", core.ErrConfigInvalid, cfg.Log.Format)
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		return fmt.Errorf("%w: log.file.path is required when log.file.enabled=true", core.ErrConfigInvalid)
	}

	// ── Roles ──
	if _, err := cfg.Roles.Resolve(); err != nil {
		return err
	}
	if cfg.Roles.Responder.Port == 0 {
		return fmt.Errorf("%w: roles.responder.port is required", core.ErrConfigInvalid)
	}

	// ── Hosts ──
	for name, h := range cfg.Hosts {
		switch h.Type {
		case "", "local":
			h.Type = "local"
		case "ssh":
			if h.Address == "" {
				return fmt.Errorf("%w: hosts.%s.address is required for ssh hosts", core.ErrConfigInvalid, name)
			}
			if h.Port == 0 {
				h.Port = 22
			}
			if h.Timeout == 0 {
				h.Timeout = 10 * time.Second
			}
		default:
			return fmt.Errorf("%w: hosts.%s.type %q (must be local/ssh)", core.ErrConfigInvalid, name, h.Type)
		}
		cfg.Hosts[name] = h
	}
	// role hosts without an entry run their commands locally
	if cfg.Hosts == nil {
		cfg.Hosts = make(map[string]HostConfig)
	}
	for _, ep := range []EndpointConfig{cfg.Roles.Initiator, cfg.Roles.Responder} {
		if _, ok := cfg.Hosts[ep.Host]; ep.Host != "" && !ok {
			cfg.Hosts[ep.Host] = HostConfig{Type: "local"}
		}
	}

	// ── Harness ──
	if _, err := core.ParseRole(cfg.Harness.LocalRole); err != nil {
		return err
	}
	if cfg.Harness.AckBasis != "seq" && cfg.Harness.AckBasis != "ack" {
		return fmt.Errorf("%w: harness.ack_basis %q (must be seq/ack)", core.ErrConfigInvalid, cfg.Harness.AckBasis)
	}
	if cfg.Harness.ReplyTimeout <= 0 || cfg.Harness.SilenceTimeout <= 0 {
		return fmt.Errorf("%w: harness timeouts must be positive", core.ErrConfigInvalid)
	}
	if cfg.Harness.Transfer.Enabled && cfg.Harness.Transfer.PollInterval <= 0 {
		return fmt.Errorf("%w: harness.transfer.poll_interval must be positive", core.ErrConfigInvalid)
	}

	// ── Capture ──
	if cfg.Capture.SnapLen <= 0 || cfg.Capture.BufferMB <= 0 {
		return fmt.Errorf("%w: capture.snap_len and capture.buffer_mb must be positive", core.ErrConfigInvalid)
	}

	// ── Trace ──
	if cfg.Trace.MinPackets < 0 || cfg.Trace.MaxSegmentLen <= 0 {
		return fmt.Errorf("%w: trace.min_packets must be >= 0 and trace.max_segment_len > 0", core.ErrConfigInvalid)
	}

	// ── Reporters ──
	for i, r := range cfg.Reporters {
		if r.Type == "" {
			return fmt.Errorf("%w: reporters[%d].type is required", core.ErrConfigInvalid, i)
		}
	}

	return nil
}
