package core

import (
	"context"
	"log/slog"

	"github.com/najoast/bobnet/store"
)

// Behavior is the user code an actor drives. Hooks never run concurrently
// with each other for the same actor.
type Behavior interface {
	// OnStart runs once in STARTING. Returning an error drives the actor to
	// FAILED; the stop sequence still runs.
	OnStart(ctx context.Context, self *Self) error

	// OnInterval runs once when no interval is configured, otherwise every
	// interval while the actor stays RUNNING.
	OnInterval(ctx context.Context, self *Self) error

	// OnStop runs once in STOPPING, however RUNNING was left.
	OnStop(ctx context.Context, self *Self) error
}

// BaseBehavior provides no-op hooks for embedding.
type BaseBehavior struct{}

// OnStart implements Behavior.
func (BaseBehavior) OnStart(context.Context, *Self) error { return nil }

// OnInterval implements Behavior.
func (BaseBehavior) OnInterval(context.Context, *Self) error { return nil }

// OnStop implements Behavior.
func (BaseBehavior) OnStop(context.Context, *Self) error { return nil }

// Actor is the capability set shared by both scheduling variants.
type Actor interface {
	// ID returns the unique identifier used in the history path.
	ID() string

	// Tag returns the unique human-readable tag.
	Tag() string

	// Mode returns the scheduling variant.
	Mode() Mode

	// Start runs the lifecycle in the background and returns the tag. It
	// fails with ErrState when called twice.
	Start(ctx context.Context) (string, error)

	// State returns the last recorded state.
	State() State

	// History returns every recorded state in order.
	History() []State

	// ForceStop requests a cooperative stop. It is a no-op once the actor
	// is stopping.
	ForceStop()

	// Done is closed once STOPPED has been recorded.
	Done() <-chan struct{}
}

// Self is the handle hooks receive for their own actor.
type Self struct {
	l *lifecycle
}

// ID returns the actor id.
func (s *Self) ID() string { return s.l.id }

// Tag returns the actor tag.
func (s *Self) Tag() string { return s.l.tag }

// Store returns the store holding the actor's history.
func (s *Self) Store() store.Store { return s.l.store }

// Logger returns the actor's logger.
func (s *Self) Logger() *slog.Logger { return s.l.logger }

// State returns the current state.
func (s *Self) State() State { return s.l.state() }

// Fail logs err and drives the actor to FAILED. Called from OnStart it keeps
// the actor from reaching RUNNING.
func (s *Self) Fail(err error) { s.l.fail(err) }

// Stopping is closed when a force stop has been requested.
func (s *Self) Stopping() <-chan struct{} { return s.l.stop }
