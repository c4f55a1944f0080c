package protocol

import "errors"

// Protocol errors
var (
	// ErrProtocol reports a malformed frame or handshake.
	ErrProtocol = errors.New("protocol error")

	// ErrInvalidSignal reports a Signal that cannot be framed.
	ErrInvalidSignal = errors.New("invalid signal")
)
