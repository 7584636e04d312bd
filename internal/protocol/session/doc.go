// Package session owns link reliability and security parameters shared by
// both roles.
//
// Ownership boundary:
// - heartbeat idle interval and the coalesced idle timer
// - connect/handshake/write timeouts and retry backoff
// - the transport security descriptor (PSK label, derived key, cipher suite, keepalive)
//
// Both roles must build byte-identical descriptors from the same key and
// label; nothing here is negotiated at runtime.
package session
