package core

import "errors"

// Runtime errors
var (
	// ErrState reports an invalid lifecycle transition or query.
	ErrState = errors.New("invalid actor state")

	// ErrHook wraps a panic recovered from a behavior hook.
	ErrHook = errors.New("actor hook panicked")

	// ErrFailed is returned by a run that reached FAILED without a hook error.
	ErrFailed = errors.New("actor failed")

	// ErrUnknownBehavior reports an isolated actor name nobody registered.
	ErrUnknownBehavior = errors.New("unknown isolated behavior")

	// ErrDuplicateTag reports a second actor with the same tag in a Manager.
	ErrDuplicateTag = errors.New("duplicate actor tag")

	// ErrUnknownActor reports a tag a Manager does not track.
	ErrUnknownActor = errors.New("unknown actor")
)
