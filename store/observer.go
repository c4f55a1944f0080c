package store

import (
	"strings"
	"sync"
)

// Recorder keeps every journaled update in memory. Tests use it to observe
// write order across goroutines.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnUpdate implements Observer.
func (r *Recorder) OnUpdate(u Update) error {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	return nil
}

// Updates returns the updates whose path contains filter, or all of them when
// filter is empty.
func (r *Recorder) Updates(filter string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Update, 0, len(r.updates))
	for _, u := range r.updates {
		if filter == "" || strings.Contains(u.Path, filter) {
			out = append(out, u)
		}
	}
	return out
}

// Values returns the written values for paths containing filter.
func (r *Recorder) Values(filter string) []any {
	updates := r.Updates(filter)
	out := make([]any, len(updates))
	for i, u := range updates {
		out[i] = u.Value
	}
	return out
}
