package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var _ Actor = (*SharedActor)(nil)

// SharedActor runs its lifecycle in a goroutine and shares the injected
// store with the rest of the process.
type SharedActor struct {
	l *lifecycle

	started atomic.Bool
	done    chan struct{}

	// Wait group for the lifecycle goroutine
	wg sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// NewShared creates a goroutine actor for b. INIT is recorded immediately.
func NewShared(b Behavior, opts Options) *SharedActor {
	opts = opts.withDefaults()
	id, tag := newIdentity(opts.Tag)

	return &SharedActor{
		l:    newLifecycle(id, tag, b, opts),
		done: make(chan struct{}),
	}
}

// ID returns the actor id.
func (a *SharedActor) ID() string { return a.l.id }

// Tag returns the actor tag.
func (a *SharedActor) Tag() string { return a.l.tag }

// Mode returns ModeShared.
func (a *SharedActor) Mode() Mode { return ModeShared }

// Start begins the lifecycle in a new goroutine and returns immediately.
// Cancelling ctx acts as ForceStop.
func (a *SharedActor) Start(ctx context.Context) (string, error) {
	if !a.started.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: actor %s is already started (state: %s)", ErrState, a.l.tag, a.State())
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.done)

		err := a.l.run(ctx)

		a.errMu.Lock()
		a.err = err
		a.errMu.Unlock()
	}()

	return a.l.tag, nil
}

// State returns the last recorded state.
func (a *SharedActor) State() State { return a.l.state() }

// History returns every recorded state.
func (a *SharedActor) History() []State { return a.l.history() }

// ForceStop requests a cooperative stop.
func (a *SharedActor) ForceStop() { a.l.forceStop() }

// Done is closed once STOPPED has been recorded.
func (a *SharedActor) Done() <-chan struct{} { return a.done }

// Wait blocks until the lifecycle goroutine has finished.
func (a *SharedActor) Wait() { a.wg.Wait() }

// Err returns the failure of a finished lifecycle. Stop hook errors are
// only reported here.
func (a *SharedActor) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.err
}
