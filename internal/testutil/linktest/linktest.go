package linktest

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/link"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/protocol/session"
)

// Descriptor derives a 32 byte key from seed. Equal seeds give matching
// descriptors; different seeds give descriptors that must not handshake.
func Descriptor(t testing.TB, seed string) session.SecurityDescriptor {
	t.Helper()
	key := sha256.Sum256([]byte("linktest:" + seed))
	desc := session.NewSecurityDescriptor(key[:], session.DefaultPSKLabel)
	if err := desc.Validate(); err != nil {
		t.Fatalf("descriptor %q: %v", seed, err)
	}
	return desc
}

// FastConfig shortens every timer for loopback tests.
func FastConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.HandshakeTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.HeartbeatInterval = 300 * time.Millisecond
	cfg.Backoff = session.BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	}
	return cfg
}

// Pair is an acceptor on loopback plus an initiator that finds it through a
// static browser.
type Pair struct {
	Acceptor  *link.Acceptor
	Initiator *link.Initiator
	// AcceptorMessages and InitiatorMessages are the inbound streams.
	AcceptorMessages  <-chan frame.Message
	InitiatorMessages <-chan frame.Message
}

// StartPair starts both roles and registers their shutdown with t.
func StartPair(t testing.TB, cfg session.Config, acceptorSec, initiatorSec session.SecurityDescriptor) *Pair {
	t.Helper()
	ctx := context.Background()

	acc, err := link.NewAcceptor(link.AcceptorConfig{
		Session:    cfg,
		Security:   acceptorSec,
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("new acceptor: %v", err)
	}
	t.Cleanup(acc.Shutdown)
	accMsgs, err := acc.Listen(ctx)
	if err != nil {
		t.Fatalf("acceptor listen: %v", err)
	}

	in, err := link.NewInitiator(link.InitiatorConfig{
		Session:  cfg,
		Security: initiatorSec,
		Browser: discovery.StaticBrowser{
			Peers:    []string{acc.Addr().String()},
			Interval: 100 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("new initiator: %v", err)
	}
	t.Cleanup(in.Shutdown)
	inMsgs, err := in.Connect(ctx)
	if err != nil {
		t.Fatalf("initiator connect: %v", err)
	}

	return &Pair{
		Acceptor:          acc,
		Initiator:         in,
		AcceptorMessages:  accMsgs,
		InitiatorMessages: inMsgs,
	}
}

// WaitForState reads states until kind is seen.
func WaitForState(t testing.TB, states <-chan link.State, kind link.StateKind, timeout time.Duration) link.State {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case s, ok := <-states:
			if !ok {
				t.Fatalf("state stream closed waiting for %s", kind)
			}
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", kind)
		}
	}
}

// WaitForMessage reads messages until one with payload is seen.
func WaitForMessage(t testing.TB, msgs <-chan frame.Message, payload frame.Payload, timeout time.Duration) frame.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				t.Fatalf("message stream closed waiting for %s", payload)
			}
			if msg.Payload == payload {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", payload)
		}
	}
}
