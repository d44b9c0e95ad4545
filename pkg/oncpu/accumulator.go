package oncpu

import (
	"github.com/srodi/oncpu-bpf/pkg/table"
	"github.com/srodi/oncpu-bpf/pkg/types"
)

// Accumulator sums on-CPU nanoseconds per task.
type Accumulator struct {
	t *table.Table[uint64]
}

// NewAccumulator allocates an accumulator bounded by opts.Capacity.
func NewAccumulator(opts table.Options) (*Accumulator, error) {
	t, err := table.New[uint64](opts)
	if err != nil {
		return nil, err
	}
	return &Accumulator{t: t}, nil
}

// Get returns the accumulated time for id, or 0 when id is unknown.
func (a *Accumulator) Get(id types.TaskID) uint64 {
	v, _ := a.t.Get(uint32(id))
	return v
}

// Add credits delta nanoseconds to id. Concurrent adds for the same id are
// serialized and none is lost. It returns false when id is new and the
// accumulator is full.
func (a *Accumulator) Add(id types.TaskID, delta uint64) bool {
	return a.t.Update(uint32(id), func(v *uint64, _ bool) {
		*v += delta
	})
}

// Delete forgets id.
func (a *Accumulator) Delete(id types.TaskID) bool {
	return a.t.Delete(uint32(id))
}

// Len returns the number of tasks with a record.
func (a *Accumulator) Len() int { return a.t.Len() }

// Cap returns the configured capacity.
func (a *Accumulator) Cap() int { return a.t.Cap() }

// Reset drops every record.
func (a *Accumulator) Reset() { a.t.Reset() }

// Snapshot copies the accumulated times.
func (a *Accumulator) Snapshot() map[types.TaskID]uint64 {
	out := make(map[types.TaskID]uint64, a.t.Len())
	a.t.Range(func(key uint32, ns uint64) bool {
		out[types.TaskID(key)] = ns
		return true
	})
	return out
}
