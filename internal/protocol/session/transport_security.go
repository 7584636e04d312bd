package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/dtls/v3"
)

// DefaultPSKLabel is the fixed protocol label both roles authenticate.
const DefaultPSKLabel = "hostlink.link.v1"

// DefaultCipherSuite is the one AEAD suite both roles agree on.
const DefaultCipherSuite = dtls.TLS_PSK_WITH_AES_128_GCM_SHA256

var (
	ErrPSKRequired            = errors.New("session: pre-shared key required")
	ErrPSKTooShort            = errors.New("session: pre-shared key too short")
	ErrPSKLabelRequired       = errors.New("session: psk label required")
	ErrUnsupportedCipherSuite = errors.New("session: unsupported cipher suite")
	ErrPSKIdentityMismatch    = errors.New("session: psk identity mismatch")
	ErrInvalidKeepAlive       = errors.New("session: invalid keepalive")
)

// MinPSKBytes is the shortest accepted shared key.
const MinPSKBytes = 16

var supportedCipherSuites = map[dtls.CipherSuiteID]bool{
	dtls.TLS_PSK_WITH_AES_128_GCM_SHA256: true,
	dtls.TLS_PSK_WITH_AES_128_CCM:        true,
	dtls.TLS_PSK_WITH_AES_128_CCM_8:      true,
}

// KeepAliveConfig tunes raw transport keepalive probing. It is independent
// of the link heartbeat.
type KeepAliveConfig struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

func DefaultKeepAlive() KeepAliveConfig {
	return KeepAliveConfig{
		Idle:     time.Second,
		Interval: time.Second,
		Count:    3,
	}
}

// NetConfig converts to the socket keepalive options.
func (k KeepAliveConfig) NetConfig() net.KeepAliveConfig {
	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     k.Idle,
		Interval: k.Interval,
		Count:    k.Count,
	}
}

// SecurityDescriptor is the full set of transport security parameters.
// Two peers interoperate only when Label, Key and CipherSuite all match.
type SecurityDescriptor struct {
	Label       string
	Key         []byte
	CipherSuite dtls.CipherSuiteID
	KeepAlive   KeepAliveConfig
}

// NewSecurityDescriptor builds the default descriptor for key. An empty
// label selects DefaultPSKLabel.
func NewSecurityDescriptor(key []byte, label string) SecurityDescriptor {
	if strings.TrimSpace(label) == "" {
		label = DefaultPSKLabel
	}
	return SecurityDescriptor{
		Label:       label,
		Key:         append([]byte(nil), key...),
		CipherSuite: DefaultCipherSuite,
		KeepAlive:   DefaultKeepAlive(),
	}
}

// ParsePSK decodes a hex encoded shared key.
func ParsePSK(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrPSKRequired
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("session: parse psk: %w", err)
	}
	if len(key) < MinPSKBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPSKTooShort, len(key))
	}
	return key, nil
}

func (d SecurityDescriptor) Validate() error {
	if len(d.Key) == 0 {
		return ErrPSKRequired
	}
	if len(d.Key) < MinPSKBytes {
		return fmt.Errorf("%w: %d bytes", ErrPSKTooShort, len(d.Key))
	}
	if strings.TrimSpace(d.Label) == "" {
		return ErrPSKLabelRequired
	}
	if !supportedCipherSuites[d.CipherSuite] {
		return fmt.Errorf("%w: %#04x", ErrUnsupportedCipherSuite, uint16(d.CipherSuite))
	}
	if d.KeepAlive.Idle <= 0 || d.KeepAlive.Interval <= 0 || d.KeepAlive.Count <= 0 {
		return ErrInvalidKeepAlive
	}
	return nil
}

// AuthCode is HMAC-SHA-256 of the label under the shared key. It is the
// secret handed to the transport PSK mechanism.
func (d SecurityDescriptor) AuthCode() []byte {
	mac := hmac.New(sha256.New, d.Key)
	mac.Write([]byte(d.Label))
	return mac.Sum(nil)
}

// Fingerprint identifies the descriptor without revealing key material, so
// two peers can compare their parameters in logs.
func (d SecurityDescriptor) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(d.Label))
	h.Write([]byte{0})
	h.Write(d.AuthCode())
	h.Write([]byte{byte(d.CipherSuite >> 8), byte(d.CipherSuite)})
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// DTLSConfig builds the record layer config. The same config serves both
// roles: the label is sent as identity by the client and as hint by the
// server, and either side refuses a peer that names another label.
func (d SecurityDescriptor) DTLSConfig() (*dtls.Config, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	identity := []byte(d.Label)
	code := d.AuthCode()
	return &dtls.Config{
		PSK: func(peerIdentity []byte) ([]byte, error) {
			if !hmac.Equal(peerIdentity, identity) {
				return nil, fmt.Errorf("%w: %q", ErrPSKIdentityMismatch, peerIdentity)
			}
			return code, nil
		},
		PSKIdentityHint:      identity,
		CipherSuites:         []dtls.CipherSuiteID{d.CipherSuite},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}, nil
}
