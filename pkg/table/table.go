// Package table implements a fixed-capacity concurrent hash table keyed by
// task id.
//
// Slots are allocated once at construction. Keys are spread over a fixed
// number of shards, each guarded by its own mutex and probed linearly, so
// every operation touches a single shard and performs a bounded amount of
// work. A table-wide atomic counter enforces the configured capacity exactly;
// every shard owns enough slots to hold the whole capacity, so an insert is
// only ever refused because the table is full, never because one shard is.
package table

import (
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// OverflowPolicy selects what happens when a new key arrives at a full table.
type OverflowPolicy int

const (
	// Reject refuses the new key; the table is left unchanged.
	Reject OverflowPolicy = iota
	// EvictOldest replaces the least recently written entry of the shard the
	// new key hashes to. If that shard holds no entries the insert is refused.
	EvictOldest
)

// DefaultCapacity matches the size of the kernel-side hash maps.
const DefaultCapacity = 4096

const defaultShards = 16

func (p OverflowPolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	case EvictOldest:
		return "evict"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy maps a config string onto a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "reject":
		return Reject, nil
	case "evict":
		return EvictOldest, nil
	}
	return Reject, fmt.Errorf("unknown overflow policy %q (want reject or evict)", s)
}

// Options configures a Table.
type Options struct {
	Capacity int
	Policy   OverflowPolicy
	// Shards is rounded up to a power of two. Zero selects a default.
	Shards int
}

type slot[V any] struct {
	key   uint32
	used  bool
	stamp uint64
	val   V
}

type shard[V any] struct {
	mu    sync.Mutex
	slots []slot[V]
	n     int
}

// Table maps uint32 keys to values of type V.
type Table[V any] struct {
	shards    []shard[V]
	shardBits uint
	slotMask  uint32
	capacity  int64
	policy    OverflowPolicy
	count     atomic.Int64
	clock     atomic.Uint64
}

// New allocates a table with all of its slots.
func New[V any](opts Options) (*Table[V], error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("table capacity must be positive, got %d", opts.Capacity)
	}
	if opts.Policy != Reject && opts.Policy != EvictOldest {
		return nil, fmt.Errorf("invalid overflow policy %v", opts.Policy)
	}
	nShards := opts.Shards
	if nShards <= 0 {
		nShards = defaultShards
	}
	nShards = ceilPow2(nShards)
	// Power-of-two slot count strictly larger than the capacity keeps at least
	// one empty slot per shard, which terminates every probe sequence.
	nSlots := ceilPow2(opts.Capacity + 1)

	t := &Table[V]{
		shards:    make([]shard[V], nShards),
		shardBits: uint(bits.TrailingZeros(uint(nShards))),
		slotMask:  uint32(nSlots - 1),
		capacity:  int64(opts.Capacity),
		policy:    opts.Policy,
	}
	for i := range t.shards {
		t.shards[i].slots = make([]slot[V], nSlots)
	}
	return t, nil
}

// Cap returns the configured capacity.
func (t *Table[V]) Cap() int { return int(t.capacity) }

// Len returns the number of live entries.
func (t *Table[V]) Len() int { return int(t.count.Load()) }

// Policy returns the overflow policy the table was built with.
func (t *Table[V]) Policy() OverflowPolicy { return t.policy }

// Get returns a copy of the value stored for key.
func (t *Table[V]) Get(key uint32) (V, bool) {
	s, h := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.find(key, h, t.slotMask); ok {
		return s.slots[i].val, true
	}
	var zero V
	return zero, false
}

// Update looks key up and calls fn with a pointer to its value while the
// owning shard is locked. exists reports whether the entry was already
// present; when it was not, fn receives a zeroed value which becomes the new
// entry. Update returns false, without calling fn, when the key is absent and
// the overflow policy cannot make room for it.
//
// fn must not call back into the table.
func (t *Table[V]) Update(key uint32, fn func(v *V, exists bool)) bool {
	s, h := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.find(key, h, t.slotMask); ok {
		fn(&s.slots[i].val, true)
		s.slots[i].stamp = t.clock.Add(1)
		return true
	}

	if !t.reserve() {
		if t.policy != EvictOldest || !s.evictOldest(t.slotMask) {
			return false
		}
		// The evicted entry's reservation is handed to the new key.
	}

	i := s.freeSlot(h, t.slotMask)
	sl := &s.slots[i]
	var zero V
	sl.key, sl.used, sl.val = key, true, zero
	fn(&sl.val, false)
	sl.stamp = t.clock.Add(1)
	s.n++
	return true
}

// Set stores val for key, overwriting any previous value.
func (t *Table[V]) Set(key uint32, val V) bool {
	return t.Update(key, func(v *V, _ bool) { *v = val })
}

// Delete removes key and reports whether it was present.
func (t *Table[V]) Delete(key uint32) bool {
	s, h := t.locate(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.find(key, h, t.slotMask)
	if !ok {
		return false
	}
	s.remove(i, t.slotMask)
	t.count.Add(-1)
	return true
}

// Range calls fn for each entry, one shard at a time. Each shard is locked
// while it is visited, so every value seen is whole, but entries of
// different shards may belong to different instants. Iteration stops when fn
// returns false. fn must not call back into the table.
func (t *Table[V]) Range(fn func(key uint32, val V) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for j := range s.slots {
			sl := &s.slots[j]
			if !sl.used {
				continue
			}
			if !fn(sl.key, sl.val) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Reset drops every entry.
func (t *Table[V]) Reset() {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		if s.n > 0 {
			clear(s.slots)
			t.count.Add(-int64(s.n))
			s.n = 0
		}
		s.mu.Unlock()
	}
}

func (t *Table[V]) reserve() bool {
	if t.count.Add(1) > t.capacity {
		t.count.Add(-1)
		return false
	}
	return true
}

// locate returns the shard owning key and the key's hash.
func (t *Table[V]) locate(key uint32) (*shard[V], uint32) {
	// Fibonacci hashing; the top bits pick the shard, the rest the slot.
	h := key * 0x9E3779B9
	idx := uint32(0)
	if t.shardBits > 0 {
		idx = h >> (32 - t.shardBits)
	}
	return &t.shards[idx], h
}

func (s *shard[V]) find(key, h, mask uint32) (uint32, bool) {
	for i, n := h&mask, 0; n <= int(mask); i, n = (i+1)&mask, n+1 {
		sl := &s.slots[i]
		if !sl.used {
			return 0, false
		}
		if sl.key == key {
			return i, true
		}
	}
	return 0, false
}

func (s *shard[V]) freeSlot(h, mask uint32) uint32 {
	i := h & mask
	for s.slots[i].used {
		i = (i + 1) & mask
	}
	return i
}

// remove clears slot i and shifts later members of the probe run back so
// lookups never stop early at the hole.
func (s *shard[V]) remove(i, mask uint32) {
	j := i
	for {
		j = (j + 1) & mask
		if !s.slots[j].used {
			break
		}
		home := (s.slots[j].key * 0x9E3779B9) & mask
		// Move j into the hole unless its home lies cyclically in (i, j].
		if (j > i && (home <= i || home > j)) || (j < i && home <= i && home > j) {
			s.slots[i] = s.slots[j]
			i = j
		}
	}
	s.slots[i] = slot[V]{}
	s.n--
}

func (s *shard[V]) evictOldest(mask uint32) bool {
	if s.n == 0 {
		return false
	}
	victim, oldest := uint32(0), ^uint64(0)
	for i := range s.slots {
		if s.slots[i].used && s.slots[i].stamp < oldest {
			victim, oldest = uint32(i), s.slots[i].stamp
		}
	}
	s.remove(victim, mask)
	return true
}

func ceilPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
