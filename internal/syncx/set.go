package syncx

import "sync"

// Set is a mutex guarded hash set.
type Set[T comparable] struct {
	mu    sync.RWMutex
	items map[T]struct{}
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{items: make(map[T]struct{}, len(items))}
	for _, v := range items {
		s.items[v] = struct{}{}
	}
	return s
}

// Add reports whether v was newly inserted.
func (s *Set[T]) Add(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[v]; ok {
		return false
	}
	s.items[v] = struct{}{}
	return true
}

func (s *Set[T]) AddAll(vs ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vs {
		s.items[v] = struct{}{}
	}
}

// Remove reports whether v was present.
func (s *Set[T]) Remove(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[v]; !ok {
		return false
	}
	delete(s.items, v)
	return true
}

func (s *Set[T]) Contains(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[v]
	return ok
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Items returns a snapshot in no particular order.
func (s *Set[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.items))
	for v := range s.items {
		out = append(out, v)
	}
	return out
}

// Pop removes and returns an arbitrary member.
func (s *Set[T]) Pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.items {
		delete(s.items, v)
		return v, true
	}
	var zero T
	return zero, false
}

func (s *Set[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.items)
}
