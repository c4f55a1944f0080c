package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/bobnet/store"
)

// Environment passed to an isolated child.
const (
	EnvIsolatedActor = "BOBNET_ISOLATED_ACTOR"
	EnvActorID       = "BOBNET_ACTOR_ID"
	EnvActorTag      = "BOBNET_ACTOR_TAG"
	EnvActorInterval = "BOBNET_ACTOR_INTERVAL"
)

// Lines exchanged with an isolated child. The child reports "state <n>" on
// stdout; the parent writes "stop" on the child's stdin.
const (
	stateLine   = "state"
	stopRequest = "stop"
)

// Factory creates the Behavior of an isolated actor inside the child.
type Factory func() Behavior

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a behavior available to isolated actors under name. Both
// the parent and the child must register it, typically from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

func lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

var _ Actor = (*IsolatedActor)(nil)

// IsolatedActor runs a registered behavior in a child process. The parent
// keeps the state history in its own store from the states the child
// streams back.
type IsolatedActor struct {
	id         string
	tag        string
	name       string
	interval   time.Duration
	store      store.Store
	path       string
	logger     *slog.Logger
	executable string

	started  atomic.Bool
	done     chan struct{}
	exitCode atomic.Int32

	mu      sync.Mutex
	stdin   io.WriteCloser
	pending bool
}

// NewIsolated creates a process actor running the behavior registered under
// name. INIT is recorded immediately.
func NewIsolated(name string, opts Options) (*IsolatedActor, error) {
	if _, ok := lookup(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBehavior, name)
	}

	opts = opts.withDefaults()
	if opts.Tag == "" {
		opts.Tag = name
	}
	id, tag := newIdentity(opts.Tag)

	a := &IsolatedActor{
		id:         id,
		tag:        tag,
		name:       name,
		interval:   opts.Interval,
		store:      opts.Store,
		path:       HistoryPath(id),
		logger:     opts.Logger.With("actor", tag),
		executable: opts.Executable,
		done:       make(chan struct{}),
	}
	a.exitCode.Store(-1)
	a.record(StateInit)
	return a, nil
}

// ID returns the actor id.
func (a *IsolatedActor) ID() string { return a.id }

// Tag returns the actor tag.
func (a *IsolatedActor) Tag() string { return a.tag }

// Mode returns ModeIsolated.
func (a *IsolatedActor) Mode() Mode { return ModeIsolated }

// Start spawns the child process and returns the tag without waiting for it.
// A spawn failure is recorded as FAILED followed by STOPPED.
func (a *IsolatedActor) Start(ctx context.Context) (string, error) {
	if !a.started.CompareAndSwap(false, true) {
		return "", fmt.Errorf("%w: actor %s is already started", ErrState, a.tag)
	}

	exe := a.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return "", a.abort(fmt.Errorf("failed to locate executable: %w", err))
		}
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		EnvIsolatedActor+"="+a.name,
		EnvActorID+"="+a.id,
		EnvActorTag+"="+a.tag,
		EnvActorInterval+"="+a.interval.String(),
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", a.abort(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", a.abort(err)
	}
	if err := cmd.Start(); err != nil {
		return "", a.abort(fmt.Errorf("failed to spawn %s: %w", exe, err))
	}
	a.logger.Debug("isolated actor spawned", "pid", cmd.Process.Pid)

	a.mu.Lock()
	a.stdin = stdin
	pending := a.pending
	a.mu.Unlock()
	if pending {
		a.ForceStop()
	}

	go a.supervise(ctx, cmd, stdout)
	return a.tag, nil
}

// supervise records streamed states until the child exits.
func (a *IsolatedActor) supervise(ctx context.Context, cmd *exec.Cmd, stdout io.Reader) {
	defer close(a.done)

	stopWatch := context.AfterFunc(ctx, a.ForceStop)
	defer stopWatch()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != stateLine {
			continue
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || !State(n).Valid() {
			a.logger.Warn("ignoring malformed state line", "line", scanner.Text())
			continue
		}
		a.record(State(n))
	}

	err := cmd.Wait()

	a.mu.Lock()
	a.stdin.Close()
	a.stdin = nil
	a.mu.Unlock()

	code := 0
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
	case err != nil:
		code = 1
	}
	a.exitCode.Store(int32(code))
	a.logger.Debug("isolated actor exited", "code", code)

	// a child that died without finishing its lifecycle
	if a.State() != StateStopped {
		a.record(StateFailed)
		a.record(StateStopped)
	}
}

func (a *IsolatedActor) abort(err error) error {
	a.logger.Error("isolated actor failed to start", "err", err)
	a.record(StateFailed)
	a.record(StateStopped)
	a.exitCode.Store(1)
	close(a.done)
	return err
}

func (a *IsolatedActor) record(s State) {
	if err := a.store.Add(a.path, s); err != nil {
		a.logger.Error("failed to record state", "state", s, "err", err)
	}
}

// State returns the last state reported by the child.
func (a *IsolatedActor) State() State {
	last, err := a.store.GetLasts(a.path, 1)
	if err != nil || len(last) == 0 {
		return StateInit
	}
	s, ok := stateOf(last[0])
	if !ok {
		return StateFailed
	}
	return s
}

// History returns every recorded state.
func (a *IsolatedActor) History() []State {
	values, err := a.store.Get(a.path)
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

// ForceStop asks the child to stop at its next loop boundary.
func (a *IsolatedActor) ForceStop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stdin == nil {
		select {
		case <-a.done:
		default:
			// delivered by Start once the child is spawned
			a.pending = true
		}
		return
	}
	if _, err := io.WriteString(a.stdin, stopRequest+"\n"); err != nil {
		a.logger.Debug("stop request not delivered", "err", err)
	}
}

// Done is closed once the child has exited.
func (a *IsolatedActor) Done() <-chan struct{} { return a.done }

// ExitCode returns the child's exit status, or -1 while it runs.
func (a *IsolatedActor) ExitCode() int { return int(a.exitCode.Load()) }

// RunIsolatedChild returns immediately unless the process was spawned for an
// isolated actor. In that case it runs the actor and exits the process with
// status 0 on success and 1 on failure. Call it first thing in main, or in
// TestMain for tests.
func RunIsolatedChild() {
	name := os.Getenv(EnvIsolatedActor)
	if name == "" {
		return
	}
	os.Exit(runChild(name, os.Stdin, os.Stdout))
}

func runChild(name string, in io.Reader, out io.Writer) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("pid", os.Getpid())

	factory, ok := lookup(name)
	if !ok {
		logger.Error("isolated actor not registered", "name", name)
		return 1
	}

	interval, err := time.ParseDuration(os.Getenv(EnvActorInterval))
	if err != nil {
		interval = 0
	}

	id := os.Getenv(EnvActorID)
	tag := os.Getenv(EnvActorTag)
	if id == "" {
		id, tag = newIdentity(name)
	}

	l := newLifecycle(id, tag, factory(), Options{
		Interval: interval,
		Store:    store.New(store.WithLogger(logger)),
		Logger:   logger,
	})
	l.onState = func(s State) {
		fmt.Fprintf(out, "%s %d\n", stateLine, s)
	}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == stopRequest {
				l.forceStop()
			}
		}
		// parent went away
		l.forceStop()
	}()

	if err := l.run(context.Background()); err != nil {
		return 1
	}
	return 0
}
