package link

import (
	"context"
	"time"

	"github.com/danmuck/hostlink/internal/transport"
)

// Role names the side of the link a Core plays.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleAcceptor  Role = "acceptor"
)

// Sink receives candidate transports from discovery or a listener. Offer
// is safe to call from any goroutine.
type Sink interface {
	Offer(conn transport.Conn)
}

// RoleStrategy supplies the role-specific edges of the state machine. All
// methods run on the Core event loop.
type RoleStrategy interface {
	Role() Role
	// IdleState is the state entered when no transport is active.
	IdleState() StateKind
	// Open arms the role once at start. ctx ends at shutdown.
	Open(ctx context.Context, sink Sink) error
	// Rearm runs every time the Core enters IdleState.
	Rearm(sink Sink)
	// Settle runs when an offered transport is taken.
	Settle()
	// Accepts reports whether an offer is taken in the current state.
	Accepts(current StateKind) bool
	// RetryAfter returns the delay before leaving the error state for
	// IdleState, or false to stay in error until the next offer.
	RetryAfter(attempt int) (time.Duration, bool)
	Close()
}
