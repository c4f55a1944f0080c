package hub

import (
	"errors"
	"fmt"

	"github.com/najoast/bobnet/protocol"
)

// Hub errors
var (
	// ErrNoStore reports a hub built without a shared store.
	ErrNoStore = errors.New("a shared store is mandatory for a hub")

	// ErrNotSignal reports an emit of something that is not a Signal.
	ErrNotSignal = errors.New("not a signal")

	// ErrAlreadySeen reports an emit of a Signal ID already seen.
	ErrAlreadySeen = errors.New("signal already seen")

	// ErrHandshake reports a peer reply without a recognizable version.
	ErrHandshake = fmt.Errorf("%w: invalid handshake", protocol.ErrProtocol)

	// ErrUnsupportedVersion reports a peer version above MaxHubVersion.
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported hub version", protocol.ErrProtocol)

	// ErrInbound reports a malformed entry in the inbound queue.
	ErrInbound = errors.New("malformed inbound entry")

	// ErrJournal reports a journal entry that is not a valid block.
	ErrJournal = errors.New("malformed journal entry")
)
