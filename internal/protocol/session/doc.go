// Package session owns the block side of the block<->host channel protocol.
//
// Ownership boundary:
// - handshake/readiness phase and the pinned parent origin
// - pending outbox for calls issued before the channel is ready
// - call id allocation and the in-flight correlation table
// - inbound message classification
// - retry/backoff primitives used by dialing transports
//
// Machine performs no I/O. Each input returns the ordered effects the
// caller must apply.
package session
