package network

import "errors"

// Network errors
var (
	// ErrResource reports a socket or timeout level failure.
	ErrResource = errors.New("network resource error")

	// ErrConnectionLimit reports a connection rejected by MaxConnections.
	ErrConnectionLimit = errors.New("connection limit reached")

	// ErrRateLimited reports a connection rejected by the accept limiter.
	ErrRateLimited = errors.New("accept rate exceeded")
)
