package report

import (
	"time"

	"github.com/srodi/oncpu-bpf/pkg/oncpu"
	"github.com/srodi/oncpu-bpf/pkg/types"
)

// Snapshot is one poll of the task registry and the on-CPU accumulator.
type Snapshot struct {
	At    time.Time
	Tasks map[types.TaskID]types.TaskInfo
	OnCPU map[types.TaskID]uint64
}

// Take copies both tables. The copies are taken one after the other, so a
// task may show up in one and not yet in the other.
func Take(reg *oncpu.Registry, acc *oncpu.Accumulator, at time.Time) Snapshot {
	tasks := reg.Snapshot()
	snap := Snapshot{
		At:    at,
		Tasks: make(map[types.TaskID]types.TaskInfo, len(tasks)),
		OnCPU: acc.Snapshot(),
	}
	for _, t := range tasks {
		snap.Tasks[t.ID] = t.TaskInfo
	}
	return snap
}

// Differ turns successive cumulative snapshots into per-window usage.
type Differ struct {
	prev   map[types.TaskID]uint64
	prevAt time.Time
}

// Window returns the on-CPU time each task gained since the previous call
// and the length of that window. The first call reports the totals over a
// zero window. A counter that went backwards belongs to a task whose entry
// was dropped and recreated, so its current value is taken as the gain.
func (d *Differ) Window(snap Snapshot) (map[types.TaskID]uint64, time.Duration) {
	var window time.Duration
	if !d.prevAt.IsZero() {
		window = snap.At.Sub(d.prevAt)
	}
	gains := make(map[types.TaskID]uint64, len(snap.OnCPU))
	for id, ns := range snap.OnCPU {
		before := d.prev[id]
		if ns >= before {
			ns -= before
		}
		if ns > 0 {
			gains[id] = ns
		}
	}
	d.prev, d.prevAt = snap.OnCPU, snap.At
	return gains, window
}

// Forget drops the baseline after the accumulator itself was reset, keeping
// the window start.
func (d *Differ) Forget() {
	d.prev = nil
}

// CgroupNamer resolves a cgroup id to a path.
type CgroupNamer interface {
	Resolve(id uint32) (string, bool)
}

// CPUStats joins per-task gains with the registry metadata.
func CPUStats(gains map[types.TaskID]uint64, tasks map[types.TaskID]types.TaskInfo, namer CgroupNamer) []types.CPUStat {
	cache := make(map[uint32]string)
	stats := make([]types.CPUStat, 0, len(gains))
	for id, ns := range gains {
		info, ok := tasks[id]
		stat := types.CPUStat{PID: uint32(id), Ns: ns}
		if ok {
			stat.Comm = info.Name.String()
			stat.Cgroup = cgroupLabel(info, namer)
		} else {
			stat.Cgroup = "unknown"
		}
		stat.Comm = commForPID(stat.PID, stat.Comm, cache)
		stats = append(stats, stat)
	}
	return stats
}

func cgroupLabel(info types.TaskInfo, namer CgroupNamer) string {
	if info.Unattributed() {
		return "unattributed"
	}
	if namer != nil {
		if p, ok := namer.Resolve(info.Cgroup); ok {
			return p
		}
	}
	return "unknown"
}
