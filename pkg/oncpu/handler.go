// Package oncpu attributes on-CPU time to tasks from scheduler context
// switches.
//
// Every switch on a CPU ends the slice of the task being switched out and
// starts a slice for the task being switched in. The Registry remembers when
// each task was last switched in; the Accumulator sums the length of every
// completed slice. Both are bounded, explicitly constructed tables shared by
// all CPUs, and the Handler is the only writer.
package oncpu

import (
	"sync/atomic"

	"github.com/srodi/oncpu-bpf/pkg/table"
	"github.com/srodi/oncpu-bpf/pkg/types"
)

// Diagnostics is notified of the conditions the handler recovers from
// silently. Implementations must be safe for concurrent use and must not
// block.
type Diagnostics interface {
	RegistryFull()
	AccumulatorFull()
	ClockAnomaly()
	UnknownPrev()
}

type nopDiagnostics struct{}

func (nopDiagnostics) RegistryFull()    {}
func (nopDiagnostics) AccumulatorFull() {}
func (nopDiagnostics) ClockAnomaly()    {}
func (nopDiagnostics) UnknownPrev()     {}

// Handler applies switch events to a Registry and an Accumulator. It may be
// called from any number of goroutines.
type Handler struct {
	registry *Registry
	oncpu    *Accumulator
	diag     Diagnostics

	// exited maps the id of an exited task to the reap generation in which
	// the exit was seen.
	exited *table.Table[uint64]
	gen    atomic.Uint64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithDiagnostics installs d as the recipient of recovery notifications.
func WithDiagnostics(d Diagnostics) Option {
	return func(h *Handler) {
		if d != nil {
			h.diag = d
		}
	}
}

// NewHandler wires a handler to its tables.
func NewHandler(registry *Registry, oncpu *Accumulator, opts ...Option) *Handler {
	// Cannot fail: the registry's capacity is positive.
	exited, _ := table.New[uint64](table.Options{Capacity: registry.Cap()})
	h := &Handler{registry: registry, oncpu: oncpu, diag: nopDiagnostics{}, exited: exited}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry returns the task registry the handler writes to.
func (h *Handler) Registry() *Registry { return h.registry }

// Accumulator returns the on-CPU accumulator the handler writes to.
func (h *Handler) Accumulator() *Accumulator { return h.oncpu }

// OnSwitch accounts one context switch at ts from prev to next.
//
// next is recorded before prev is charged. When prev == next the start time
// read back is ts itself, so a self-switch never adds time.
func (h *Handler) OnSwitch(prev, next types.TaskID, ts uint64, nextName types.Comm, nextCgroup uint32) {
	if _, ok := h.registry.Touch(next, ts, nextName, nextCgroup); !ok {
		h.diag.RegistryFull()
	}

	info, ok := h.registry.Get(prev)
	if !ok {
		h.diag.UnknownPrev()
		return
	}
	var delta uint64
	if ts >= info.StartTime {
		delta = ts - info.StartTime
	} else if prev != 0 {
		// Every CPU's idle task is pid 0 and shares one entry, so its start
		// time is routinely overwritten by another CPU.
		h.diag.ClockAnomaly()
	}
	if !h.oncpu.Add(prev, delta) {
		h.diag.AccumulatorFull()
	}
}

// HandleSwitch is OnSwitch for a decoded event.
func (h *Handler) HandleSwitch(ev types.SwitchEvent) {
	h.OnSwitch(ev.PrevID, ev.NextID, ev.TimestampNs, ev.NextName, ev.NextCgroup)
}

// OnExit marks id as exited. The task keeps its entries, so its final
// switch-out is still charged and its counter stays visible until Reap has
// run twice after the exit. If the exit set is full the mark is dropped and
// the task is never reaped.
func (h *Handler) OnExit(id types.TaskID) {
	gen := h.gen.Load()
	h.exited.Update(uint32(id), func(v *uint64, _ bool) { *v = gen })
}

// Reap forgets the tasks that exited before the previous call, in both
// tables, and returns how many were dropped. Callers read the tables before
// calling it, so every exited task is seen in at least one read after its
// last slice was charged.
func (h *Handler) Reap() int {
	cur := h.gen.Load()
	var ids []uint32
	h.exited.Range(func(id uint32, gen uint64) bool {
		if gen < cur {
			ids = append(ids, id)
		}
		return true
	})
	for _, id := range ids {
		h.exited.Delete(id)
		h.registry.Delete(types.TaskID(id))
		h.oncpu.Delete(types.TaskID(id))
	}
	h.gen.Add(1)
	return len(ids)
}

// Exited returns the number of exited tasks waiting to be reaped.
func (h *Handler) Exited() int { return h.exited.Len() }

// HandleExit is OnExit for a decoded event.
func (h *Handler) HandleExit(ev types.ExitEvent) {
	h.OnExit(ev.ID)
}
