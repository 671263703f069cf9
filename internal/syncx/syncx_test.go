package syncx

import (
	"sort"
	"sync"
	"testing"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestSetBasics(t *testing.T) {
	testlog.Start(t)

	s := NewSet("a")
	require.True(t, s.Add("b"))
	require.False(t, s.Add("b"))
	s.AddAll("c", "d")
	require.Equal(t, 4, s.Len())
	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.True(t, s.Contains("c"))

	items := s.Items()
	sort.Strings(items)
	require.Equal(t, []string{"b", "c", "d"}, items)

	v, ok := s.Pop()
	require.True(t, ok)
	require.False(t, s.Contains(v))
	s.Clear()
	_, ok = s.Pop()
	require.False(t, ok)
}

func TestSetConcurrentAdd(t *testing.T) {
	testlog.Start(t)

	s := NewSet[int]()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Add(g*100 + i)
			}
		}(g)
	}
	wg.Wait()
	require.Equal(t, 800, s.Len())
}

func TestIndexRemoveValueDropsEveryKey(t *testing.T) {
	testlog.Start(t)

	x := NewIndex[string, uint32]()
	require.True(t, x.Add("weather", 1))
	require.False(t, x.Add("weather", 1))
	x.Add("weather", 2)
	x.Add("news", 1)
	x.Add("news", 3)

	keys := x.KeysOf(1)
	sort.Strings(keys)
	require.Equal(t, []string{"news", "weather"}, keys)

	removed := x.RemoveValue(1)
	sort.Strings(removed)
	require.Equal(t, []string{"news", "weather"}, removed)
	require.False(t, x.Contains("weather", 1))
	require.False(t, x.Contains("news", 1))
	require.Equal(t, map[string]int{"weather": 1, "news": 1}, x.Counts())
	require.Empty(t, x.KeysOf(1))
	require.Empty(t, x.RemoveValue(1))
}

func TestIndexRemoveDropsEmptyKeys(t *testing.T) {
	testlog.Start(t)

	x := NewIndex[string, int]()
	x.Add("t", 1)
	require.True(t, x.Remove("t", 1))
	require.False(t, x.Remove("t", 1))
	require.Empty(t, x.Counts())
	require.Equal(t, 0, x.Count("t"))
}

func TestIndexRangeStopsEarly(t *testing.T) {
	testlog.Start(t)

	x := NewIndex[string, int]()
	for i := 0; i < 10; i++ {
		x.Add("k", i)
	}
	seen := 0
	x.Range("k", func(int) bool {
		seen++
		return seen < 3
	})
	require.Equal(t, 3, seen)
	require.Len(t, x.Members("k"), 10)
	require.Equal(t, []string{"a", "k"}, func() []string {
		x.Add("a", 1)
		return x.SortedKeys(func(a, b string) bool { return a < b })
	}())
}

func TestPoolUniqueAndBounded(t *testing.T) {
	testlog.Start(t)

	type obj struct{ n int }
	allocs := 0
	p := NewPool(2, func() *obj {
		allocs++
		return &obj{n: allocs}
	})

	a := p.Get()
	b := p.Get()
	c := p.Get()
	require.Equal(t, 3, allocs)

	require.True(t, p.Put(a))
	require.False(t, p.Put(a), "duplicate put rejected")
	require.True(t, p.Put(b))
	require.False(t, p.Put(c), "pool is full")
	require.Equal(t, 2, p.Len())
	require.True(t, p.Contains(b))

	require.Same(t, b, p.Get())
	require.Same(t, a, p.Get())
	require.Equal(t, 0, p.Len())
	p.Get()
	require.Equal(t, 4, allocs)
}

func TestPoolZeroCapacityNeverRetains(t *testing.T) {
	testlog.Start(t)

	p := NewPool(0, func() *int { return new(int) })
	v := p.Get()
	require.False(t, p.Put(v))
	require.Equal(t, 0, p.Len())
}
