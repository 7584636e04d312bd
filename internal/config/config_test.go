package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/danmuck/hostlink/internal/testutil/testlog"
)

const testPSK = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostlink.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
instance = "desk"
listen_addr = "127.0.0.1:7500"
peers = [" 10.0.0.2:7420 ", ""]
psk_hex = "`+testPSK+`"
heartbeat_interval = "750ms"
max_body_bytes = 4096
status_addr = "127.0.0.1:7501"
status_token = " tok "
cors_origins = ["http://localhost:3000"]

[keepalive]
idle = "2s"
count = 5

[backoff]
initial = "100ms"
multiplier = 1.5
max = "3s"
jitter = false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Instance != "desk" || cfg.ListenAddr != "127.0.0.1:7500" {
		t.Fatalf("identity = %q %q", cfg.Instance, cfg.ListenAddr)
	}
	if len(cfg.Peers) != 1 || cfg.Peers[0] != "10.0.0.2:7420" {
		t.Fatalf("peers = %+v", cfg.Peers)
	}
	if cfg.StatusToken != "tok" {
		t.Fatalf("status token = %q", cfg.StatusToken)
	}
	if len(cfg.PSK) != 32 {
		t.Fatalf("psk len = %d", len(cfg.PSK))
	}
	if cfg.Session.HeartbeatInterval != 750*time.Millisecond {
		t.Fatalf("heartbeat = %v", cfg.Session.HeartbeatInterval)
	}
	if cfg.Session.HandshakeTimeout != session.DefaultConfig().HandshakeTimeout {
		t.Fatalf("handshake default lost: %v", cfg.Session.HandshakeTimeout)
	}
	if cfg.Session.Limits.MaxBodyBytes != 4096 {
		t.Fatalf("max body = %d", cfg.Session.Limits.MaxBodyBytes)
	}
	if cfg.KeepAlive.Idle != 2*time.Second || cfg.KeepAlive.Interval != time.Second || cfg.KeepAlive.Count != 5 {
		t.Fatalf("keepalive = %+v", cfg.KeepAlive)
	}
	want := session.BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 1.5, MaxDelay: 3 * time.Second}
	if cfg.Session.Backoff != want {
		t.Fatalf("backoff = %+v", cfg.Session.Backoff)
	}
	if cfg.ServiceType != discovery.DefaultServiceType || cfg.Domain != discovery.DefaultDomain {
		t.Fatalf("discovery defaults lost: %q %q", cfg.ServiceType, cfg.Domain)
	}

	sec, err := cfg.Security()
	if err != nil {
		t.Fatalf("security: %v", err)
	}
	if sec.Label != session.DefaultPSKLabel || sec.KeepAlive.Count != 5 {
		t.Fatalf("descriptor = %+v", sec)
	}
	browser, err := cfg.Browser()
	if err != nil {
		t.Fatalf("browser: %v", err)
	}
	if _, ok := browser.(discovery.StaticBrowser); !ok {
		t.Fatalf("peers should select static browser, got %T", browser)
	}
	in, err := cfg.InitiatorConfig()
	if err != nil || in.Browser == nil {
		t.Fatalf("initiator config: %+v %v", in, err)
	}
	acc, err := cfg.AcceptorConfig()
	if err != nil || acc.ListenAddr != "127.0.0.1:7500" || acc.Advertiser == nil {
		t.Fatalf("acceptor config: %+v %v", acc, err)
	}
}

func TestLoadWithoutPeersUsesMDNS(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `psk_hex = "`+testPSK+`"`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	browser, err := cfg.Browser()
	if err != nil {
		t.Fatalf("browser: %v", err)
	}
	if _, ok := browser.(*discovery.MDNSBrowser); !ok {
		t.Fatalf("expected mDNS browser, got %T", browser)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":    `listen = ":1"`,
		"bad duration":   `heartbeat_interval = "soon"`,
		"bad psk":        `psk_hex = "zz"`,
		"short psk":      `psk_hex = "0011"`,
		"bad service":    `service_type = "hostlink"`,
		"bad peer":       `peers = ["no-port"]`,
		"zero body":      `max_body_bytes = 0`,
		"zero count":     "[keepalive]\ncount = 0",
		"low multiple":   "[backoff]\nmultiplier = 0.5",
		"zero hb":        `heartbeat_interval = "0s"`,
		"missing addr":   `listen_addr = " "`,
		"missing domain": `domain = ""`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("missing file: expected error")
	}
}

func TestSecurityRequiresPSK(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	if _, err := cfg.Security(); !errors.Is(err, session.ErrPSKRequired) {
		t.Fatalf("expected ErrPSKRequired, got %v", err)
	}
	if _, err := cfg.InitiatorConfig(); !errors.Is(err, session.ErrPSKRequired) {
		t.Fatalf("initiator config without psk: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"host", "remote"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		if err := WriteTemplate(path, kind, testPSK, false); err != nil {
			t.Fatalf("%s: write: %v", kind, err)
		}
		if err := WriteTemplate(path, kind, testPSK, false); err == nil {
			t.Fatalf("%s: overwrite without force accepted", kind)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%s: load: %v", kind, err)
		}
		if _, err := cfg.Security(); err != nil {
			t.Fatalf("%s: security: %v", kind, err)
		}
	}
	if _, err := Template("mirror", testPSK); err == nil {
		t.Fatalf("unknown kind accepted")
	}
}
