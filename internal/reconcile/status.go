package reconcile

import "sync"

// CurrentStatus is a last-writer-wins projection keyed by business key.
// A value is created on the first sighting of a key and replaced wholesale
// only by a value at a strictly greater block.
//
// Ordering is by block alone, so it is not reorg-aware: an instance must not
// outlive a rewind of blocks it has already seen.
type CurrentStatus[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	changed []K
	dirty   map[K]struct{}
}

// NewCurrentStatus creates an empty projection.
func NewCurrentStatus[K comparable, V any]() *CurrentStatus[K, V] {
	return &CurrentStatus[K, V]{
		entries: make(map[K]entry[V]),
		dirty:   make(map[K]struct{}),
	}
}

// Apply records value for key at block and reports whether it replaced the current value.
func (s *CurrentStatus[K, V]) Apply(key K, value V, block uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && block <= cur.seenBlock {
		return false
	}

	s.entries[key] = entry[V]{value: value, seenBlock: block}
	if _, ok := s.dirty[key]; !ok {
		s.dirty[key] = struct{}{}
		s.changed = append(s.changed, key)
	}
	return true
}

// Get returns the current value for key and its block.
func (s *CurrentStatus[K, V]) Get(key K) (V, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e.value, e.seenBlock, ok
}

// Changed returns the keys replaced since the last call, in first-change order, and resets the set.
func (s *CurrentStatus[K, V]) Changed() []K {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.changed
	s.changed = nil
	s.dirty = make(map[K]struct{})
	return out
}

// Len returns the number of tracked keys.
func (s *CurrentStatus[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
