package hub

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/najoast/bobnet/protocol"
)

// SeenSet is the dedup set of Signal IDs. Implementations must be safe for
// concurrent use.
type SeenSet interface {
	// Add marks id seen and reports whether it was new.
	Add(id [protocol.IDSize]byte) bool

	// Contains reports whether id was seen.
	Contains(id [protocol.IDSize]byte) bool

	// Len returns the number of IDs added.
	Len() int
}

// MapSeen remembers every ID for the lifetime of the process.
type MapSeen struct {
	mu  sync.RWMutex
	ids map[[protocol.IDSize]byte]struct{}
}

// NewMapSeen creates an empty unbounded set.
func NewMapSeen() *MapSeen {
	return &MapSeen{ids: make(map[[protocol.IDSize]byte]struct{})}
}

// Add implements SeenSet.
func (s *MapSeen) Add(id [protocol.IDSize]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Contains implements SeenSet.
func (s *MapSeen) Contains(id [protocol.IDSize]byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len implements SeenSet.
func (s *MapSeen) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// BloomSeen bounds memory with a bloom filter sized for n IDs at false
// positive rate fp. A false positive drops a Signal that was never seen.
type BloomSeen struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	n      int
}

// NewBloomSeen creates a filter sized for n IDs.
func NewBloomSeen(n uint, fp float64) *BloomSeen {
	return &BloomSeen{filter: bloom.NewWithEstimates(n, fp)}
}

// Add implements SeenSet.
func (s *BloomSeen) Add(id [protocol.IDSize]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filter.TestAndAdd(id[:]) {
		return false
	}
	s.n++
	return true
}

// Contains implements SeenSet.
func (s *BloomSeen) Contains(id [protocol.IDSize]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Test(id[:])
}

// Len implements SeenSet.
func (s *BloomSeen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
