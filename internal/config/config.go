package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/link"
	"github.com/danmuck/hostlink/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("config: invalid")

// LinkConfig is the full runtime configuration for either link role.
type LinkConfig struct {
	Instance    string
	ServiceType string
	Domain      string
	ListenAddr  string
	// Peers replaces mDNS browsing with a fixed host:port list.
	Peers       []string
	PSK         []byte
	PSKLabel    string
	Session     session.Config
	KeepAlive   session.KeepAliveConfig
	StatusAddr  string
	// StatusToken, when set, guards the status control routes.
	StatusToken string
	CorsOrigins []string
}

type fileConfig struct {
	Instance          string        `toml:"instance"`
	ServiceType       string        `toml:"service_type"`
	Domain            string        `toml:"domain"`
	ListenAddr        string        `toml:"listen_addr"`
	Peers             []string      `toml:"peers"`
	PSKHex            string        `toml:"psk_hex"`
	PSKLabel          string        `toml:"psk_label"`
	HeartbeatInterval string        `toml:"heartbeat_interval"`
	HandshakeTimeout  string        `toml:"handshake_timeout"`
	ConnectTimeout    string        `toml:"connect_timeout"`
	WriteTimeout      string        `toml:"write_timeout"`
	MaxBodyBytes      int64         `toml:"max_body_bytes"`
	StatusAddr        string        `toml:"status_addr"`
	StatusToken       string        `toml:"status_token"`
	CorsOrigins       []string      `toml:"cors_origins"`
	KeepAlive         fileKeepAlive `toml:"keepalive"`
	Backoff           fileBackoff   `toml:"backoff"`
}

type fileKeepAlive struct {
	Idle     string `toml:"idle"`
	Interval string `toml:"interval"`
	Count    int    `toml:"count"`
}

type fileBackoff struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

// Default returns a config that needs only a PSK to run.
func Default() LinkConfig {
	return LinkConfig{
		ServiceType: discovery.DefaultServiceType,
		Domain:      discovery.DefaultDomain,
		ListenAddr:  ":7420",
		PSKLabel:    session.DefaultPSKLabel,
		Session:     session.DefaultConfig(),
		KeepAlive:   session.DefaultKeepAlive(),
	}
}

// Load overlays the keys defined in path onto Default and validates.
func Load(path string) (LinkConfig, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return LinkConfig{}, fmt.Errorf("load link config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return LinkConfig{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}

	if meta.IsDefined("instance") {
		cfg.Instance = strings.TrimSpace(raw.Instance)
	}
	if meta.IsDefined("service_type") {
		cfg.ServiceType = strings.TrimSpace(raw.ServiceType)
	}
	if meta.IsDefined("domain") {
		cfg.Domain = strings.TrimSpace(raw.Domain)
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizeList(raw.Peers)
	}
	if meta.IsDefined("psk_hex") {
		key, err := session.ParsePSK(raw.PSKHex)
		if err != nil {
			return LinkConfig{}, fmt.Errorf("parse psk_hex: %w", err)
		}
		cfg.PSK = key
	}
	if meta.IsDefined("psk_label") {
		cfg.PSKLabel = strings.TrimSpace(raw.PSKLabel)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("max_body_bytes") {
		if raw.MaxBodyBytes <= 0 {
			return LinkConfig{}, fmt.Errorf("%w: max_body_bytes must be positive", ErrInvalidConfig)
		}
		cfg.Session.Limits.MaxBodyBytes = uint64(raw.MaxBodyBytes)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Session.HeartbeatInterval},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"keepalive.idle", raw.KeepAlive.Idle, &cfg.KeepAlive.Idle},
		{"keepalive.interval", raw.KeepAlive.Interval, &cfg.KeepAlive.Interval},
		{"backoff.initial", raw.Backoff.Initial, &cfg.Session.Backoff.InitialDelay},
		{"backoff.max", raw.Backoff.Max, &cfg.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(strings.Split(d.key, ".")...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return LinkConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("keepalive", "count") {
		cfg.KeepAlive.Count = raw.KeepAlive.Count
	}
	if meta.IsDefined("backoff", "multiplier") {
		cfg.Session.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Session.Backoff.Jitter = raw.Backoff.Jitter
	}

	if err := cfg.Validate(); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

// Validate checks everything except the key, which only the roles need.
func (c LinkConfig) Validate() error {
	if err := discovery.ValidateServiceType(c.ServiceType); err != nil {
		return fmt.Errorf("%w: service_type %q", ErrInvalidConfig, c.ServiceType)
	}
	if strings.TrimSpace(c.Domain) == "" {
		return fmt.Errorf("%w: domain is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr is required", ErrInvalidConfig)
	}
	for i, peer := range c.Peers {
		if _, _, err := splitPeer(peer); err != nil {
			return fmt.Errorf("%w: peers[%d] %q: %v", ErrInvalidConfig, i, peer, err)
		}
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.KeepAlive.Idle <= 0 || c.KeepAlive.Interval <= 0 || c.KeepAlive.Count <= 0 {
		return fmt.Errorf("%w: keepalive idle, interval and count must be positive", ErrInvalidConfig)
	}
	if c.Session.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff.multiplier must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// Security builds the descriptor shared by both roles.
func (c LinkConfig) Security() (session.SecurityDescriptor, error) {
	desc := session.NewSecurityDescriptor(c.PSK, c.PSKLabel)
	desc.KeepAlive = c.KeepAlive
	if err := desc.Validate(); err != nil {
		return session.SecurityDescriptor{}, err
	}
	return desc, nil
}

func (c LinkConfig) mdns() discovery.MDNSConfig {
	return discovery.MDNSConfig{
		Instance:    c.Instance,
		ServiceType: c.ServiceType,
		Domain:      c.Domain,
	}
}

// Browser is a static browser when peers are configured and mDNS otherwise.
func (c LinkConfig) Browser() (discovery.Browser, error) {
	if len(c.Peers) > 0 {
		return discovery.StaticBrowser{Peers: c.Peers}, nil
	}
	return discovery.NewMDNSBrowser(c.mdns())
}

func (c LinkConfig) Advertiser() (discovery.Advertiser, error) {
	return discovery.NewMDNSAdvertiser(c.mdns())
}

func (c LinkConfig) InitiatorConfig() (link.InitiatorConfig, error) {
	sec, err := c.Security()
	if err != nil {
		return link.InitiatorConfig{}, err
	}
	browser, err := c.Browser()
	if err != nil {
		return link.InitiatorConfig{}, err
	}
	return link.InitiatorConfig{Session: c.Session, Security: sec, Browser: browser}, nil
}

func (c LinkConfig) AcceptorConfig() (link.AcceptorConfig, error) {
	sec, err := c.Security()
	if err != nil {
		return link.AcceptorConfig{}, err
	}
	ad, err := c.Advertiser()
	if err != nil {
		return link.AcceptorConfig{}, err
	}
	return link.AcceptorConfig{
		Session:    c.Session,
		Security:   sec,
		ListenAddr: c.ListenAddr,
		Advertiser: ad,
	}, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func splitPeer(peer string) (string, string, error) {
	host, port, err := net.SplitHostPort(peer)
	if err != nil {
		return "", "", err
	}
	if host == "" || port == "" {
		return "", "", errors.New("host and port required")
	}
	return host, port, nil
}
