package syncx

import (
	"sort"
	"sync"
)

// Index maps keys to member sets and keeps the reverse mapping so a member
// can be dropped from every key in one call. Range holds the read lock for
// the whole callback, so RemoveValue never interleaves with an iteration.
type Index[K comparable, V comparable] struct {
	mu      sync.RWMutex
	members map[K]map[V]struct{}
	keys    map[V]map[K]struct{}
}

func NewIndex[K comparable, V comparable]() *Index[K, V] {
	return &Index[K, V]{
		members: make(map[K]map[V]struct{}),
		keys:    make(map[V]map[K]struct{}),
	}
}

// Add reports whether v was newly added under k.
func (x *Index[K, V]) Add(k K, v V) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.members[k]
	if !ok {
		set = make(map[V]struct{})
		x.members[k] = set
	}
	if _, ok := set[v]; ok {
		return false
	}
	set[v] = struct{}{}
	rev, ok := x.keys[v]
	if !ok {
		rev = make(map[K]struct{})
		x.keys[v] = rev
	}
	rev[k] = struct{}{}
	return true
}

// Remove reports whether v was present under k. Empty keys are dropped.
func (x *Index[K, V]) Remove(k K, v V) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(k, v)
}

func (x *Index[K, V]) removeLocked(k K, v V) bool {
	set, ok := x.members[k]
	if !ok {
		return false
	}
	if _, ok := set[v]; !ok {
		return false
	}
	delete(set, v)
	if len(set) == 0 {
		delete(x.members, k)
	}
	if rev, ok := x.keys[v]; ok {
		delete(rev, k)
		if len(rev) == 0 {
			delete(x.keys, v)
		}
	}
	return true
}

// RemoveValue drops v from every key and returns the keys it was under.
func (x *Index[K, V]) RemoveValue(v V) []K {
	x.mu.Lock()
	defer x.mu.Unlock()
	rev := x.keys[v]
	out := make([]K, 0, len(rev))
	for k := range rev {
		out = append(out, k)
	}
	for _, k := range out {
		x.removeLocked(k, v)
	}
	return out
}

// Range calls fn for each member of k until fn returns false.
func (x *Index[K, V]) Range(k K, fn func(v V) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for v := range x.members[k] {
		if !fn(v) {
			return
		}
	}
}

func (x *Index[K, V]) Contains(k K, v V) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.members[k][v]
	return ok
}

func (x *Index[K, V]) Members(k K) []V {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]V, 0, len(x.members[k]))
	for v := range x.members[k] {
		out = append(out, v)
	}
	return out
}

// KeysOf returns the keys v is currently under.
func (x *Index[K, V]) KeysOf(v V) []K {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]K, 0, len(x.keys[v]))
	for k := range x.keys[v] {
		out = append(out, k)
	}
	return out
}

func (x *Index[K, V]) Count(k K) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.members[k])
}

func (x *Index[K, V]) Counts() map[K]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[K]int, len(x.members))
	for k, set := range x.members {
		out[k] = len(set)
	}
	return out
}

// SortedKeys returns the non-empty keys ordered by less.
func (x *Index[K, V]) SortedKeys(less func(a, b K) bool) []K {
	x.mu.RLock()
	out := make([]K, 0, len(x.members))
	for k := range x.members {
		out = append(out, k)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}
