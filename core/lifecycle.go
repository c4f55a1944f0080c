package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/najoast/bobnet/store"
)

// lifecycle runs a Behavior through
//
//	INIT -> STARTING -> RUNNING -> STOPPING -> STOPPED
//
// with FAILED or FORCE_STOPPING possibly recorded before STOPPING. It is
// shared by the goroutine variant and by the isolated child process.
type lifecycle struct {
	id       string
	tag      string
	behavior Behavior
	interval time.Duration
	store    store.Store
	path     string
	logger   *slog.Logger
	self     *Self

	// mu orders state writes against force stop requests
	mu       sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	pending  bool
	err      error

	// onState is told about every recorded state after INIT
	onState func(State)
}

func newLifecycle(id, tag string, b Behavior, opts Options) *lifecycle {
	l := &lifecycle{
		id:       id,
		tag:      tag,
		behavior: b,
		interval: opts.Interval,
		store:    opts.Store,
		path:     HistoryPath(id),
		logger:   opts.Logger.With("actor", tag),
		stop:     make(chan struct{}),
	}
	l.self = &Self{l: l}
	l.write(StateInit)
	return l
}

func (l *lifecycle) state() State {
	last, err := l.store.GetLasts(l.path, 1)
	if err != nil || len(last) == 0 {
		return StateInit
	}
	s, ok := stateOf(last[0])
	if !ok {
		return StateFailed
	}
	return s
}

func (l *lifecycle) history() []State {
	values, err := l.store.Get(l.path)
	if err != nil {
		return nil
	}
	out := make([]State, 0, len(values))
	for _, v := range values {
		if s, ok := stateOf(v); ok {
			out = append(out, s)
		}
	}
	return out
}

func (l *lifecycle) setState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(s)
}

// write records s. Caller holds mu, except during construction.
func (l *lifecycle) write(s State) {
	if err := l.store.Add(l.path, s); err != nil {
		l.logger.Error("failed to record state", "state", s, "err", err)
		return
	}
	l.logger.Debug("state change", "state", s)
	if l.onState != nil && s != StateInit {
		l.onState(s)
	}
}

// forceStop records FORCE_STOPPING and closes the stop channel. A request
// made before STARTING is remembered until the actor starts.
func (l *lifecycle) forceStop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state() {
	case StateInit:
		l.pending = true
	case StateStarting, StateRunning:
		l.write(StateForceStopping)
		l.stopOnce.Do(func() { close(l.stop) })
	}
}

func (l *lifecycle) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logger.Error("actor failed", "err", err)
	l.err = errors.Join(l.err, err)
	l.write(StateFailed)
}

// run executes the whole lifecycle and returns the failure, if any. STOPPED
// is recorded on every path.
func (l *lifecycle) run(ctx context.Context) error {
	l.mu.Lock()
	l.write(StateStarting)
	if l.pending {
		l.write(StateForceStopping)
		l.stopOnce.Do(func() { close(l.stop) })
	}
	l.mu.Unlock()

	if err := l.call(ctx, "start", l.behavior.OnStart); err != nil {
		l.fail(err)
	}

	l.mu.Lock()
	running := l.state() == StateStarting
	if running {
		l.write(StateRunning)
	}
	l.mu.Unlock()

	if running {
		if err := l.loop(ctx); err != nil {
			l.fail(err)
		}
	}

	stopErr := l.shutdown(context.WithoutCancel(ctx))

	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.err, stopErr)
}

func (l *lifecycle) loop(ctx context.Context) error {
	if l.interval <= 0 {
		return l.call(ctx, "interval", l.behavior.OnInterval)
	}

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for l.state() == StateRunning {
		if err := l.call(ctx, "interval", l.behavior.OnInterval); err != nil {
			return err
		}

		timer.Reset(l.interval)
		select {
		case <-l.stop:
			return nil
		case <-ctx.Done():
			l.forceStop()
			return nil
		case <-timer.C:
		}
	}
	return nil
}

func (l *lifecycle) shutdown(ctx context.Context) error {
	l.setState(StateStopping)
	err := l.call(ctx, "stop", l.behavior.OnStop)
	if err != nil {
		l.logger.Error("stop hook failed", "err", err)
	}
	l.setState(StateStopped)
	return err
}

// call runs one hook and converts a panic into an error.
func (l *lifecycle) call(ctx context.Context, hook string, fn func(context.Context, *Self) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHook, hook, r)
		}
	}()

	if err := fn(ctx, l.self); err != nil {
		return fmt.Errorf("%s hook: %w", hook, err)
	}
	return nil
}
