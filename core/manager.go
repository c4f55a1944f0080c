package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Manager tracks actors by tag. It is itself a Behavior: run as an actor
// with an interval it reaps finished actors, and its stop hook force-stops
// everything still tracked.
type Manager struct {
	mu          sync.RWMutex
	actors      map[string]Actor
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		actors: make(map[string]Actor),
		logger: logger,
	}
}

// SetStopTimeout bounds how long the stop hook waits for tracked actors.
// Zero waits for as long as they take.
func (m *Manager) SetStopTimeout(d time.Duration) *Manager {
	m.stopTimeout = d
	return m
}

// Add tracks a. Tags must be unique.
func (m *Manager) Add(a Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.actors[a.Tag()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, a.Tag())
	}
	m.actors[a.Tag()] = a
	m.logger.Debug("actor added", "tag", a.Tag(), "mode", a.Mode())
	return nil
}

// Has reports whether tag is tracked.
func (m *Manager) Has(tag string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.actors[tag]
	return ok
}

// Get returns the actor tracked under tag.
func (m *Manager) Get(tag string) (Actor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.actors[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, tag)
	}
	return a, nil
}

// Remove stops tracking tag without stopping the actor.
func (m *Manager) Remove(tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.actors[tag]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, tag)
	}
	delete(m.actors, tag)
	return nil
}

// Tags returns the tracked tags in sorted order.
func (m *Manager) Tags() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tags := make([]string, 0, len(m.actors))
	for tag := range m.actors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Reap drops every actor whose lifecycle has finished and returns their tags.
func (m *Manager) Reap() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []string
	for tag, a := range m.actors {
		select {
		case <-a.Done():
			delete(m.actors, tag)
			dead = append(dead, tag)
			m.logger.Debug("actor is dead", "tag", tag, "state", a.State())
		default:
		}
	}
	sort.Strings(dead)
	return dead
}

// StopAll force-stops every tracked actor and waits for them to finish or
// for ctx to end. Tracking is cleared either way.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	actors := make([]Actor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]Actor)
	m.mu.Unlock()

	for _, a := range actors {
		a.ForceStop()
	}
	for _, a := range actors {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", a.Tag(), ctx.Err())
		}
	}
	return nil
}

// OnStart implements Behavior.
func (m *Manager) OnStart(context.Context, *Self) error { return nil }

// OnInterval implements Behavior.
func (m *Manager) OnInterval(context.Context, *Self) error {
	m.Reap()
	return nil
}

// OnStop implements Behavior.
func (m *Manager) OnStop(ctx context.Context, _ *Self) error {
	if m.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.stopTimeout)
		defer cancel()
	}
	return m.StopAll(ctx)
}
