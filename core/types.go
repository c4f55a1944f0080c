package core

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/bobnet/store"
)

// State is a lifecycle state as recorded in an actor's history.
type State int8

const (
	// StateFailed means a hook failed; the actor still stops normally
	StateFailed State = -2

	// StateInit is written on construction
	StateInit State = -1

	// StateStopped is always the last state
	StateStopped State = 0

	// StateStopping means the stop hook is running
	StateStopping State = 1

	// StateForceStopping is the external stop request
	StateForceStopping State = 2

	// StateStarting means the start hook is running
	StateStarting State = 3

	// StateRunning means the interval loop is active
	StateRunning State = 4
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateFailed:
		return "failed"
	case StateInit:
		return "init"
	case StateStopped:
		return "stopped"
	case StateStopping:
		return "stopping"
	case StateForceStopping:
		return "force_stopping"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateFailed && s <= StateRunning
}

// Mode is the scheduling variant chosen at construction.
type Mode uint8

const (
	// ModeShared runs the actor as a goroutine sharing the caller's store
	ModeShared Mode = iota

	// ModeIsolated runs the actor in a child process
	ModeIsolated
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// HistoryRoot is the store subtree holding every actor's state history.
const HistoryRoot = "__actors__"

// HistoryPath returns the private store path holding the history of the
// actor with the given id.
func HistoryPath(id string) string {
	return HistoryRoot + "." + id + ".states_"
}

// Options contains configuration options for creating an actor.
type Options struct {
	// Tag is a human-readable prefix; the actor's tag is Tag#<short id>
	Tag string

	// Interval between OnInterval calls. Zero runs OnInterval once.
	Interval time.Duration

	// Store receives the state history; a private store is created when nil
	Store store.Store

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Executable is re-executed for isolated actors; defaults to os.Executable()
	Executable string
}

func (o Options) withDefaults() Options {
	if o.Store == nil {
		o.Store = store.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	return o
}

func newIdentity(base string) (id, tag string) {
	id = uuid.NewString()
	if base == "" {
		base = "actor"
	}
	return id, base + "#" + strings.SplitN(id, "-", 2)[0]
}

// stateOf converts a history value back to a State. Values replayed from a
// remote journal arrive as int, or as json.Number when read from a raw Block.
func stateOf(v any) (State, bool) {
	var n int64
	switch x := v.(type) {
	case State:
		return x, x.Valid()
	case int:
		n = int64(x)
	case int64:
		n = x
	case float64:
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, false
		}
		n = i
	default:
		return 0, false
	}
	s := State(n)
	return s, s.Valid()
}
