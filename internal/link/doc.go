// Package link implements the connector core shared by both link roles and
// the two role strategies that drive it.
//
// Core owns the connection state, the single active transport, the idle
// heartbeat timer, and the inbound message stream. Every mutation runs on
// one event-loop goroutine; transport, discovery, and listener callbacks are
// posted onto that loop before they touch state.
//
// Initiator discovers a peer and dials it. Acceptor advertises and listens,
// keeping one long-lived listener across many peer connections.
package link
