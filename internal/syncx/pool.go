package syncx

import "sync"

// Pool is a bounded reuse cache that refuses duplicates, so an object is
// never handed out twice.
type Pool[T comparable] struct {
	mu      sync.Mutex
	max     int
	newFn   func() T
	stack   []T
	members map[T]struct{}
}

// NewPool keeps at most max idle objects. newFn allocates on a miss.
func NewPool[T comparable](max int, newFn func() T) *Pool[T] {
	if max < 0 {
		max = 0
	}
	return &Pool[T]{
		max:     max,
		newFn:   newFn,
		members: make(map[T]struct{}),
	}
}

// Get pops the most recently returned object or allocates a new one.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	n := len(p.stack)
	if n == 0 {
		p.mu.Unlock()
		return p.newFn()
	}
	v := p.stack[n-1]
	var zero T
	p.stack[n-1] = zero
	p.stack = p.stack[:n-1]
	delete(p.members, v)
	p.mu.Unlock()
	return v
}

// Put returns v to the pool. It reports false when v is already pooled or
// the pool is full; the caller then drops v.
func (p *Pool[T]) Put(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[v]; ok {
		return false
	}
	if len(p.stack) >= p.max {
		return false
	}
	p.members[v] = struct{}{}
	p.stack = append(p.stack, v)
	return true
}

// Contains reports whether v is idle in the pool.
func (p *Pool[T]) Contains(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[v]
	return ok
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}
