// Package protocol owns the command-message wire contract.
//
// Ownership boundary:
// - frame: fragment header, Packet, fragmentation and reassembly
// - session: command dispatch over transport channels
// - dispatch sentinel errors shared by both
//
// Every fragment starts with a 6-byte header (length, magic, end flag,
// internal flag) followed by the length-prefixed command name. Messages
// larger than a channel's buffer are split into fragments that carry the
// total message length so the receiver can size its reassembly buffer.
package protocol
