package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DialOptions configures Dial.
type DialOptions struct {
	// Timeout bounds each connection attempt
	Timeout time.Duration

	// KeepAlive is the TCP keep-alive period; 0 keeps the OS default
	KeepAlive time.Duration

	// Attempts is the number of connection attempts; values below 1 mean 1
	Attempts int

	// RetryInterval is the wait between attempts
	RetryInterval time.Duration

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultDialOptions returns sensible default options.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		Timeout:       5 * time.Second,
		Attempts:      3,
		RetryInterval: 500 * time.Millisecond,
	}
}

// Dial connects to address over TCP, retrying failed attempts until
// opts.Attempts is exhausted or ctx ends.
func Dial(ctx context.Context, address string, opts DialOptions) (net.Conn, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := net.Dialer{Timeout: opts.Timeout, KeepAlive: opts.KeepAlive}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		opts.Logger.Debug("connect attempt failed", "addr", address, "attempt", attempt, "err", err)

		if attempt == opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: connect to %s: %v", ErrResource, address, ctx.Err())
		case <-time.After(opts.RetryInterval):
		}
	}

	return nil, fmt.Errorf("%w: connect to %s after %d attempts: %v", ErrResource, address, opts.Attempts, lastErr)
}
