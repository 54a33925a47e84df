// Package config loads and validates the flockd daemon configuration.
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/flocknet/flock/pkg/constants"
)

// Config is the daemon configuration, loadable from a TOML file and
// overridable by command-line flags.
type Config struct {
	Node     NodeConfig     `toml:"node"`
	Protocol ProtocolConfig `toml:"protocol"`
	API      APIConfig      `toml:"api"`
	Log      LogConfig      `toml:"log"`
}

// NodeConfig locates this node and its seed peer.
type NodeConfig struct {
	BindAddress string `toml:"bind_address"`
	Port        uint16 `toml:"port"`

	// JoinAddress is the seed peer, either host:port or a bare IP that
	// gets this node's port.
	JoinAddress string `toml:"join_address"`
}

// ProtocolConfig tunes the failure detector.
type ProtocolConfig struct {
	PeriodSeconds     int `toml:"period_seconds"`
	AckTimeoutSeconds int `toml:"ack_timeout_seconds"`
	NumIndirect       int `toml:"num_indirect"`
}

// APIConfig controls the HTTP status surface.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration matching the protocol defaults.
func Default() Config {
	return Config{
		Node: NodeConfig{
			BindAddress: constants.DefaultBindAddress,
			Port:        constants.DefaultPort,
		},
		Protocol: ProtocolConfig{
			PeriodSeconds:     int(constants.ProtocolPeriod / time.Second),
			AckTimeoutSeconds: int(constants.AckTimeout / time.Second),
			NumIndirect:       constants.NumIndirect,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the cross-field constraints.
func (c Config) Validate() error {
	if c.Protocol.PeriodSeconds <= 0 {
		return fmt.Errorf("config: protocol period must be positive, got %d", c.Protocol.PeriodSeconds)
	}
	if c.Protocol.AckTimeoutSeconds <= 0 {
		return fmt.Errorf("config: ack timeout must be positive, got %d", c.Protocol.AckTimeoutSeconds)
	}
	if c.Protocol.AckTimeoutSeconds >= c.Protocol.PeriodSeconds {
		return fmt.Errorf("config: ack timeout (%ds) must be below the protocol period (%ds)",
			c.Protocol.AckTimeoutSeconds, c.Protocol.PeriodSeconds)
	}
	if c.Protocol.NumIndirect < 1 {
		return fmt.Errorf("config: num_indirect must be at least 1, got %d", c.Protocol.NumIndirect)
	}
	if _, err := c.BindAddr(); err != nil {
		return err
	}
	return nil
}

// Period returns the protocol period as a duration.
func (c Config) Period() time.Duration {
	return time.Duration(c.Protocol.PeriodSeconds) * time.Second
}

// AckTimeout returns the ack timeout as a duration.
func (c Config) AckTimeout() time.Duration {
	return time.Duration(c.Protocol.AckTimeoutSeconds) * time.Second
}

// BindAddr resolves the local UDP endpoint.
func (c Config) BindAddr() (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(c.Node.BindAddress)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("config: bind address %q: %w", c.Node.BindAddress, err)
	}
	return netip.AddrPortFrom(addr, c.Node.Port), nil
}

// JoinAddr resolves the seed peer. A bare IP inherits this node's port.
func (c Config) JoinAddr() (netip.AddrPort, error) {
	if c.Node.JoinAddress == "" {
		return netip.AddrPort{}, fmt.Errorf("config: join address is required")
	}
	if strings.Contains(c.Node.JoinAddress, ":") {
		ap, err := netip.ParseAddrPort(c.Node.JoinAddress)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("config: join address %q: %w", c.Node.JoinAddress, err)
		}
		return ap, nil
	}
	addr, err := netip.ParseAddr(c.Node.JoinAddress)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("config: join address %q: %w", c.Node.JoinAddress, err)
	}
	return netip.AddrPortFrom(addr, c.Node.Port), nil
}
