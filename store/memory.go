package store

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/najoast/bobnet/block"
)

var _ Store = (*Memory)(nil)

// Memory is the in-process Store. A single lock serializes every call, so a
// mutation and its journal entry are applied together.
type Memory struct {
	mu        sync.RWMutex
	root      map[string]any
	observers []Observer
	logger    *slog.Logger
}

// Option configures a Memory store.
type Option func(*Memory)

// WithObserver registers an observer at construction time.
func WithObserver(o Observer) Option {
	return func(m *Memory) {
		m.observers = append(m.observers, o)
	}
}

// WithLogger sets the logger used to report observer failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

// New creates an empty store.
func New(opts ...Option) *Memory {
	m := &Memory{
		root:   make(map[string]any),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe registers an observer for subsequent updates.
func (m *Memory) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Get returns a copy of the sequence at path, or nil when absent.
func (m *Memory) Get(path string) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, err := m.read(path)
	if err != nil || values == nil {
		return nil, err
	}
	out := make([]any, len(values))
	copy(out, values)
	return out, nil
}

// GetFiltered returns the elements at path accepted by keep.
func (m *Memory) GetFiltered(path string, keep func(any) bool) ([]any, error) {
	values, err := m.Get(path)
	if err != nil {
		return nil, err
	}
	out := values[:0]
	for _, v := range values {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// GetObj returns the single element stored at path.
func (m *Memory) GetObj(path string) (any, error) {
	values, err := m.Get(path)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: path %q holds %d values", ErrNotSingle, path, len(values))
	}
	return values[0], nil
}

// GetLasts returns the last min(n, len) elements at path.
func (m *Memory) GetLasts(path string, n int) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, err := m.read(path)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	if n > len(values) {
		n = len(values)
	}
	out := make([]any, n)
	copy(out, values[len(values)-n:])
	return out, nil
}

// GetSince returns the elements strictly after the first element equal to
// cursor. The scan is linear, and a rewritten or duplicated value makes the
// resume point ambiguous.
func (m *Memory) GetSince(path string, cursor any) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, err := m.read(path)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if Equal(v, cursor) {
			out := make([]any, len(values)-i-1)
			copy(out, values[i+1:])
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w at path %q", ErrUnknownCursor, path)
}

// Put replaces the sequence at path.
func (m *Memory) Put(path string, value any, opts ...WriteOption) error {
	o := writeOptions{journal: true}
	for _, opt := range opts {
		opt(&o)
	}

	values, err := toSequence(value)
	if err != nil {
		return fmt.Errorf("put %q: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !o.journal {
		return m.write(path, values)
	}
	b, err := m.entry(MethodPut, path, values)
	if err != nil {
		return err
	}
	if err := m.write(path, values); err != nil {
		return err
	}
	return m.commit(b, MethodPut, path, values)
}

// Add appends value at path and journals an add entry carrying only value.
func (m *Memory) Add(path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(path, value, true)
}

// AddAll appends every value in order.
func (m *Memory) AddAll(path string, values []any) error {
	if _, err := splitPath(path); err != nil {
		return err
	}
	for _, v := range values {
		if err := m.Add(path, v); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes path and journals a put of KillValue.
func (m *Memory) Clear(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.entry(MethodPut, path, KillValue)
	if err != nil {
		return err
	}
	if err := m.remove(path); err != nil {
		return err
	}
	return m.commit(b, MethodPut, path, KillValue)
}

// ProcessBlock decodes and verifies a journal Block, re-applies its method
// and path locally with the payload converted to local values, and appends
// the received Block itself to the journal. Blocks addressing the journal
// are refused.
func (m *Memory) ProcessBlock(raw []byte) error {
	b, err := block.Deserialize(raw)
	if err != nil {
		return err
	}

	method, path := b.Method(), b.Path()
	if path == JournalPath {
		return fmt.Errorf("%w: block %s writes the journal", ErrPath, b.Hash)
	}
	value := block.Native(b.Payload)
	kill, _ := value.(string)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case method == MethodAdd:
		err = m.add(path, value, false)
	case method == MethodPut && kill == KillValue:
		err = m.remove(path)
	case method == MethodPut:
		var values []any
		values, err = toSequence(value)
		if err == nil {
			err = m.write(path, values)
		}
	default:
		return fmt.Errorf("%w [%s], block: %s", ErrUnknownMethod, method, b.Hash)
	}
	if err != nil {
		return err
	}

	if err := m.appendJournal(b); err != nil {
		return err
	}
	m.notify(Update{Method: method, Path: path, Value: value, Block: b})
	return nil
}

// Journal returns the journal as blocks.
func (m *Memory) Journal() ([]block.Block, error) {
	values, err := m.Get(JournalPath)
	if err != nil {
		return nil, err
	}
	out := make([]block.Block, 0, len(values))
	for _, v := range values {
		if b, ok := v.(block.Block); ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *Memory) add(path string, value any, journal bool) error {
	current, err := m.read(path)
	if err != nil {
		return err
	}
	values := make([]any, len(current), len(current)+1)
	copy(values, current)
	values = append(values, value)

	if !journal {
		return m.write(path, values)
	}
	b, err := m.entry(MethodAdd, path, value)
	if err != nil {
		return err
	}
	if err := m.write(path, values); err != nil {
		return err
	}
	return m.commit(b, MethodAdd, path, value)
}

// entry builds the journal Block for a mutation before anything is written.
// Writes to the journal path itself produce no entry.
func (m *Memory) entry(method, path string, value any) (block.Block, error) {
	if path == JournalPath {
		return block.Block{}, nil
	}
	b, err := block.Create(Author, value, map[string]string{
		block.MetaMethod: method,
		block.MetaPath:   path,
	})
	if err != nil {
		return block.Block{}, fmt.Errorf("journal %s %q: %w", method, path, err)
	}
	return b, nil
}

func (m *Memory) commit(b block.Block, method, path string, value any) error {
	if path == JournalPath {
		return nil
	}
	if err := m.appendJournal(b); err != nil {
		return err
	}
	m.notify(Update{Method: method, Path: path, Value: value, Block: b})
	return nil
}

func (m *Memory) appendJournal(b block.Block) error {
	current, err := m.read(JournalPath)
	if err != nil {
		return err
	}
	return m.write(JournalPath, append(current, b))
}

func (m *Memory) notify(u Update) {
	for _, o := range m.observers {
		if err := o.OnUpdate(u); err != nil {
			m.logger.Warn("store observer failed", "method", u.Method, "path", u.Path, "err", err)
		}
	}
}

// read returns the stored sequence without copying. Caller holds the lock.
func (m *Memory) read(path string) ([]any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	cell := m.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cell[p]
		if !ok {
			return nil, nil
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q traverses a stored sequence at %q", ErrPath, path, p)
		}
		cell = child
	}

	switch v := cell[parts[len(parts)-1]].(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q holds a subtree, not a sequence", ErrPath, path)
	}
}

// write stores values at path, creating intermediate maps. The whole path is
// checked before the first map is created so a rejected write changes nothing.
func (m *Memory) write(path string, values []any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("write %q: %w", path, ErrEmptyValue)
	}

	cell := m.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cell[p]
		if !ok {
			break
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q traverses a stored sequence at %q", ErrPath, path, p)
		}
		cell = child
	}

	cell = m.root
	for _, p := range parts[:len(parts)-1] {
		child, ok := cell[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			cell[p] = child
		}
		cell = child
	}
	cell[parts[len(parts)-1]] = values
	return nil
}

func (m *Memory) remove(path string) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}

	cell := m.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cell[p]
		if !ok {
			return nil
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q traverses a stored sequence at %q", ErrPath, path, p)
		}
		cell = child
	}
	delete(cell, parts[len(parts)-1])
	return nil
}
