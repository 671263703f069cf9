package protocol

import "errors"

// Dispatch errors close the connection that produced them.
var (
	ErrReservedFlag = errors.New("protocol: reserved internal flag")
	ErrNoHandler    = errors.New("protocol: no handler for command")
	ErrHandlerPanic = errors.New("protocol: handler panicked")
)
