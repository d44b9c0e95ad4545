package table

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTable(t *testing.T, capacity int, policy OverflowPolicy) *Table[uint64] {
	t.Helper()
	tbl, err := New[uint64](Options{Capacity: capacity, Policy: policy})
	require.NoError(t, err)
	return tbl
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New[int](Options{Capacity: 0})
	assert.Error(t, err)

	_, err = New[int](Options{Capacity: 8, Policy: OverflowPolicy(7)})
	assert.Error(t, err)
}

func TestGetSetDelete(t *testing.T) {
	tbl := newTable(t, 8, Reject)

	_, ok := tbl.Get(1)
	assert.False(t, ok)

	require.True(t, tbl.Set(1, 10))
	require.True(t, tbl.Set(2, 20))
	require.True(t, tbl.Set(1, 11))

	v, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(11), v)
	assert.Equal(t, 2, tbl.Len())

	assert.True(t, tbl.Delete(1))
	assert.False(t, tbl.Delete(1))
	_, ok = tbl.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestUpdateReportsExistence(t *testing.T) {
	tbl := newTable(t, 4, Reject)

	var seen []bool
	for i := 0; i < 3; i++ {
		tbl.Update(9, func(v *uint64, exists bool) {
			seen = append(seen, exists)
			*v += 5
		})
	}
	assert.Equal(t, []bool{false, true, true}, seen)
	v, _ := tbl.Get(9)
	assert.Equal(t, uint64(15), v)
}

func TestRejectPolicyKeepsExistingEntries(t *testing.T) {
	const capacity = 64
	tbl := newTable(t, capacity, Reject)

	for k := uint32(0); k < capacity; k++ {
		require.True(t, tbl.Set(k, uint64(k)+100), "key %d", k)
	}
	assert.False(t, tbl.Set(capacity, 1))
	assert.False(t, tbl.Update(capacity+1, func(*uint64, bool) { t.Fatal("fn called for rejected key") }))
	assert.Equal(t, capacity, tbl.Len())

	// Existing keys can still be updated at capacity.
	assert.True(t, tbl.Set(3, 7))

	for k := uint32(0); k < capacity; k++ {
		v, ok := tbl.Get(k)
		require.True(t, ok, "key %d lost", k)
		if k == 3 {
			assert.Equal(t, uint64(7), v)
		} else {
			assert.Equal(t, uint64(k)+100, v)
		}
	}
	_, ok := tbl.Get(capacity)
	assert.False(t, ok)

	// Freeing a slot admits a new key again.
	require.True(t, tbl.Delete(10))
	assert.True(t, tbl.Set(capacity, 1))
}

func TestEvictPolicyReplacesOldestInShard(t *testing.T) {
	tbl, err := New[uint64](Options{Capacity: 3, Policy: EvictOldest, Shards: 1})
	require.NoError(t, err)

	require.True(t, tbl.Set(1, 1))
	require.True(t, tbl.Set(2, 2))
	require.True(t, tbl.Set(3, 3))
	// Rewriting 1 makes 2 the oldest.
	require.True(t, tbl.Set(1, 10))

	require.True(t, tbl.Set(4, 4))
	assert.Equal(t, 3, tbl.Len())

	_, ok := tbl.Get(2)
	assert.False(t, ok, "oldest entry should have been evicted")
	for _, k := range []uint32{1, 3, 4} {
		_, ok := tbl.Get(k)
		assert.True(t, ok, "key %d", k)
	}
}

func TestDeleteKeepsProbeChainsReachable(t *testing.T) {
	tbl, err := New[uint64](Options{Capacity: 200, Shards: 1})
	require.NoError(t, err)

	for k := uint32(0); k < 200; k++ {
		require.True(t, tbl.Set(k, uint64(k)))
	}
	for k := uint32(0); k < 200; k += 3 {
		require.True(t, tbl.Delete(k))
	}
	for k := uint32(0); k < 200; k++ {
		v, ok := tbl.Get(k)
		if k%3 == 0 {
			assert.False(t, ok, "key %d should be gone", k)
			continue
		}
		require.True(t, ok, "key %d unreachable after deletes", k)
		assert.Equal(t, uint64(k), v)
	}
}

func TestRangeAndReset(t *testing.T) {
	tbl := newTable(t, 32, Reject)
	for k := uint32(1); k <= 20; k++ {
		tbl.Set(k, uint64(k))
	}

	sum := uint64(0)
	tbl.Range(func(_ uint32, v uint64) bool {
		sum += v
		return true
	})
	assert.Equal(t, uint64(210), sum)

	visited := 0
	tbl.Range(func(uint32, uint64) bool {
		visited++
		return visited < 5
	})
	assert.Equal(t, 5, visited)

	tbl.Reset()
	assert.Equal(t, 0, tbl.Len())
	tbl.Range(func(uint32, uint64) bool {
		t.Fatal("range over empty table")
		return false
	})
	assert.True(t, tbl.Set(1, 1))
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	tbl := newTable(t, 16, Reject)

	const workers, iterations = 8, 1000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				tbl.Update(42, func(v *uint64, _ bool) { *v++ })
			}
		}()
	}
	wg.Wait()

	v, _ := tbl.Get(42)
	assert.Equal(t, uint64(workers*iterations), v)
}

func TestConcurrentInsertsNeverExceedCapacity(t *testing.T) {
	const capacity = 100
	tbl := newTable(t, capacity, Reject)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base uint32) {
			defer wg.Done()
			for k := uint32(0); k < 100; k++ {
				tbl.Set(base+k, 1)
			}
		}(uint32(w) * 1000)
	}
	wg.Wait()

	assert.Equal(t, capacity, tbl.Len())
	n := 0
	tbl.Range(func(uint32, uint64) bool { n++; return true })
	assert.Equal(t, capacity, n)
}

func TestParseOverflowPolicy(t *testing.T) {
	p, err := ParseOverflowPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Reject, p)

	p, err = ParseOverflowPolicy("evict")
	require.NoError(t, err)
	assert.Equal(t, EvictOldest, p)
	assert.Equal(t, "evict", p.String())

	_, err = ParseOverflowPolicy("drop-all")
	assert.Error(t, err)
}
