// Package session dispatches command messages over transport channels.
//
// Ownership boundary:
// - Server: one channel kind with its handler table, filter and hooks
// - Session: per-channel reassembly state and the outbound send path
//
// A Server is constructed per kind and passed around explicitly; several
// independent servers can live in one process.
package session
