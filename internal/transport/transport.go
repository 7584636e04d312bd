// Package transport provides the raw link transport: TCP tuned for fast
// keepalive failure detection, carrying PSK-authenticated DTLS records.
//
// A Conn reports its lifecycle as a sequence of Events delivered from one
// goroutine in the order they happened: preparing, then ready or waiting,
// then data until failed or cancelled.
package transport

import (
	"errors"
	"net"
)

var (
	ErrClosed    = errors.New("transport: closed")
	ErrNotReady  = errors.New("transport: not ready")
	ErrHandshake = errors.New("transport: security handshake failed")
)

type EventKind int

const (
	EventPreparing EventKind = iota + 1
	EventReady
	EventWaiting
	EventFailed
	EventCancelled
	EventData
)

func (k EventKind) String() string {
	switch k {
	case EventPreparing:
		return "preparing"
	case EventReady:
		return "ready"
	case EventWaiting:
		return "waiting"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	case EventData:
		return "data"
	default:
		return "unknown"
	}
}

// Event is one lifecycle report. Err is set for waiting and failed, Data
// for data events.
type Event struct {
	Kind EventKind
	Err  error
	Data []byte
}

// Conn is one raw transport connection.
type Conn interface {
	ID() string
	Remote() string
	// Start begins connecting. emit is called sequentially from a single
	// goroutine and must not block for long.
	Start(emit func(Event))
	// Write hands p to the transport and does not block on the network.
	// Writes are delivered in call order. The transport keeps p.
	Write(p []byte) error
	// Cancel tears the connection down. A started Conn reports cancelled.
	Cancel()
}

// Dialer creates outbound connections. Dial does not block; connecting
// happens after Start.
type Dialer interface {
	Dial(addr string) Conn
}

// Listener yields inbound connections that have not been started yet.
type Listener interface {
	Accept() (Conn, error)
	Addr() net.Addr
	Close() error
}
