package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Node.BindAddress != "127.0.0.1" {
		t.Errorf("Node.BindAddress = %q, want %q", cfg.Node.BindAddress, "127.0.0.1")
	}
	if cfg.Node.Port != 2345 {
		t.Errorf("Node.Port = %d, want 2345", cfg.Node.Port)
	}
	if cfg.Protocol.PeriodSeconds != 5 {
		t.Errorf("Protocol.PeriodSeconds = %d, want 5", cfg.Protocol.PeriodSeconds)
	}
	if cfg.Protocol.AckTimeoutSeconds != 1 {
		t.Errorf("Protocol.AckTimeoutSeconds = %d, want 1", cfg.Protocol.AckTimeoutSeconds)
	}
	if cfg.Protocol.NumIndirect != 3 {
		t.Errorf("Protocol.NumIndirect = %d, want 3", cfg.Protocol.NumIndirect)
	}
	if cfg.API.Enabled {
		t.Error("API.Enabled should default to false")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Period() != 5*time.Second || cfg.AckTimeout() != time.Second {
		t.Error("duration accessors disagree with the second counts")
	}
}

func TestValidateDefaultsWithSeed(t *testing.T) {
	cfg := Default()
	cfg.Node.JoinAddress = "127.0.0.1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateRejectsAckTimeout(t *testing.T) {
	cfg := Default()
	cfg.Protocol.AckTimeoutSeconds = cfg.Protocol.PeriodSeconds
	if err := cfg.Validate(); err == nil {
		t.Error("ack timeout equal to the protocol period must be rejected")
	}
}

func TestValidateRejectsBadBind(t *testing.T) {
	cfg := Default()
	cfg.Node.BindAddress = "not-an-ip"
	if err := cfg.Validate(); err == nil {
		t.Error("unparseable bind address must be rejected")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flockd.toml")
	content := `
[node]
port = 4567
join_address = "10.0.0.9:2345"

[protocol]
period_seconds = 10

[api]
enabled = true
listen = "127.0.0.1:9999"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.Port != 4567 {
		t.Errorf("Node.Port = %d, want 4567", cfg.Node.Port)
	}
	if cfg.Protocol.PeriodSeconds != 10 {
		t.Errorf("Protocol.PeriodSeconds = %d, want 10", cfg.Protocol.PeriodSeconds)
	}
	if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:9999" {
		t.Errorf("API = %+v, want enabled on 127.0.0.1:9999", cfg.API)
	}
	// Untouched sections keep their defaults.
	if cfg.Node.BindAddress != "127.0.0.1" {
		t.Errorf("Node.BindAddress = %q, want default", cfg.Node.BindAddress)
	}
	if cfg.Protocol.AckTimeoutSeconds != 1 {
		t.Errorf("Protocol.AckTimeoutSeconds = %d, want default 1", cfg.Protocol.AckTimeoutSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("loading a missing file must fail")
	}
}

func TestJoinAddr(t *testing.T) {
	cfg := Default()

	cfg.Node.JoinAddress = "10.0.0.5"
	got, err := cfg.JoinAddr()
	if err != nil {
		t.Fatalf("JoinAddr: %v", err)
	}
	if want := netip.MustParseAddrPort("10.0.0.5:2345"); got != want {
		t.Errorf("bare IP resolved to %v, want %v (our port)", got, want)
	}

	cfg.Node.JoinAddress = "10.0.0.5:9000"
	got, err = cfg.JoinAddr()
	if err != nil {
		t.Fatalf("JoinAddr: %v", err)
	}
	if want := netip.MustParseAddrPort("10.0.0.5:9000"); got != want {
		t.Errorf("host:port resolved to %v, want %v", got, want)
	}

	cfg.Node.JoinAddress = ""
	if _, err := cfg.JoinAddr(); err == nil {
		t.Error("empty join address must fail")
	}
}
