package link

import (
	"fmt"
	"time"
)

// StateKind is one connection lifecycle phase.
type StateKind string

const (
	StateBoot        StateKind = "boot"
	StateSearching   StateKind = "searching"
	StateConnecting  StateKind = "connecting"
	StateConnected   StateKind = "connected"
	StateUnconnected StateKind = "unconnected"
	StateError       StateKind = "error"
)

// Peer identifies the transport behind a connecting or connected state.
type Peer struct {
	ConnID string
	Remote string
	Since  time.Time
}

// State is an immutable snapshot published on every transition.
type State struct {
	Kind StateKind
	// Peer is set while connecting or connected.
	Peer *Peer
	// Err is set in the error state.
	Err error
}

func (s State) String() string {
	switch {
	case s.Kind == StateError && s.Err != nil:
		return fmt.Sprintf("error(%v)", s.Err)
	case s.Peer != nil && s.Kind == StateConnected:
		return fmt.Sprintf("connected(%s)", s.Peer.ConnID)
	default:
		return string(s.Kind)
	}
}

func (s State) same(other State) bool {
	if s.Kind != other.Kind || s.Err != other.Err {
		return false
	}
	if s.Peer == nil || other.Peer == nil {
		return s.Peer == other.Peer
	}
	return s.Peer.ConnID == other.Peer.ConnID
}
