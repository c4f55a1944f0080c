// Package store provides the hierarchical, journaled key-space shared by actors.
//
// Paths are dot-separated segments addressing nested maps. Every stored path
// holds a non-empty ordered sequence. Each mutation, except writes to the
// journal path itself, appends a Block to the journal at JournalPath; the
// journal's append order is the only ordering reference between actors.
package store

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/najoast/bobnet/block"
)

// Store constants
const (
	// MaxPathLength is the maximum number of segments in a path
	MaxPathLength = 10

	// JournalPath holds the append-only Block sequence
	JournalPath = "__JOURNAL__"

	// Author is the block author for store-derived journal entries
	Author = "store"

	// KillValue is the journaled payload of a cleared path
	KillValue = "__KILL__"

	MethodAdd = "add"
	MethodPut = "put"
)

// Store is the journaled key-space. Implementations must make every call
// atomic with respect to the others.
type Store interface {
	// Get returns the sequence at path, or nil when the path is absent.
	Get(path string) ([]any, error)

	// Put replaces the whole sequence at path. A non-sequence value is stored
	// as a single-element sequence.
	Put(path string, value any, opts ...WriteOption) error

	// Add appends value to the sequence at path.
	Add(path string, value any) error

	// AddAll appends values in order.
	AddAll(path string, values []any) error

	// GetLasts returns the last min(n, len) elements.
	GetLasts(path string, n int) ([]any, error)

	// GetSince returns the elements strictly after the first element equal
	// to cursor.
	GetSince(path string, cursor any) ([]any, error)

	// Clear removes path.
	Clear(path string) error

	// ProcessBlock applies a serialized journal Block to local state.
	ProcessBlock(raw []byte) error
}

// WriteOption tunes a single Put.
type WriteOption func(*writeOptions)

type writeOptions struct {
	journal bool
}

// WithoutJournal suppresses the journal Block for a Put.
func WithoutJournal() WriteOption {
	return func(o *writeOptions) {
		o.journal = false
	}
}

// Update describes one journaled mutation.
type Update struct {
	Method string
	Path   string
	Value  any
	Block  block.Block
}

// Observer is notified of every journaled update in journal order. It is
// called with the store lock held and must not call back into the store.
type Observer interface {
	OnUpdate(u Update) error
}

// IsPrivate reports whether path is excluded from replication: its final
// segment ends with an underscore.
func IsPrivate(path string) bool {
	parts := strings.Split(path, ".")
	return strings.HasSuffix(parts[len(parts)-1], "_")
}

// Equal compares two stored values. Blocks compare by record digest and byte
// slices by content.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case block.Block:
		y, ok := b.(block.Block)
		return ok && x.Hash == y.Hash
	}
	return reflect.DeepEqual(a, b)
}

// Replay seeds dst by applying each block through ProcessBlock.
func Replay(dst Store, blocks []block.Block) error {
	for i, b := range blocks {
		raw, err := block.Serialize(b)
		if err != nil {
			return fmt.Errorf("replay entry %d: %w", i, err)
		}
		if err := dst.ProcessBlock(raw); err != nil {
			return fmt.Errorf("replay entry %d: %w", i, err)
		}
	}
	return nil
}

func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrPath)
	}
	parts := strings.Split(path, ".")
	if len(parts) > MaxPathLength {
		return nil, fmt.Errorf("%w: path length is %d, but should be within [1,%d]",
			ErrPath, len(parts), MaxPathLength)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrPath, path)
		}
	}
	return parts, nil
}

// toSequence converts value to the stored sequence form. Byte slices are
// scalars; any other slice or array is a sequence.
func toSequence(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return nil, ErrEmptyValue
		}
		out := make([]any, len(v))
		copy(out, v)
		return out, nil
	case []byte:
		return []any{v}, nil
	case nil:
		return []any{nil}, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() == 0 {
			return nil, ErrEmptyValue
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	return []any{value}, nil
}
