// Package transport owns the socket lifecycle: pooled Channel objects, the
// per-kind Registry that hands out channel ids, and the Listener/Connector
// helpers that feed accepted or dialed sockets into a Registry.
//
// Ownership boundary:
// - one receive goroutine and one writer goroutine per open channel
// - raw bytes only; framing lives in protocol/frame and protocol/session
//
// Collaborators that speak their own protocol implement Handler and consume
// from the receive buffer, advancing its read cursor past what they used.
package transport
