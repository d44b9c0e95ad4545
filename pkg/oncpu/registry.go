package oncpu

import (
	"sort"

	"github.com/srodi/oncpu-bpf/pkg/table"
	"github.com/srodi/oncpu-bpf/pkg/types"
)

// Registry records, per task, when it was last scheduled in and the name and
// cgroup it had when first seen.
type Registry struct {
	t *table.Table[types.TaskInfo]
}

// NewRegistry allocates a registry bounded by opts.Capacity.
func NewRegistry(opts table.Options) (*Registry, error) {
	t, err := table.New[types.TaskInfo](opts)
	if err != nil {
		return nil, err
	}
	return &Registry{t: t}, nil
}

// Get returns the metadata recorded for id.
func (r *Registry) Get(id types.TaskID) (types.TaskInfo, bool) {
	return r.t.Get(uint32(id))
}

// Upsert stores info for id. It returns false when id is new and the
// registry is full.
func (r *Registry) Upsert(id types.TaskID, info types.TaskInfo) bool {
	return r.t.Set(uint32(id), info)
}

// Touch records a scheduled-in event for id at ts. A new id gets the full
// record; a known id only has its start time moved, name and cgroup are kept
// from the first sighting. ok is false when id is new and could not be stored.
func (r *Registry) Touch(id types.TaskID, ts uint64, name types.Comm, cgroup uint32) (inserted, ok bool) {
	ok = r.t.Update(uint32(id), func(info *types.TaskInfo, exists bool) {
		if !exists {
			info.Cgroup = cgroup
			info.Name = name
			inserted = true
		}
		info.StartTime = ts
	})
	return inserted, ok
}

// Delete forgets id.
func (r *Registry) Delete(id types.TaskID) bool {
	return r.t.Delete(uint32(id))
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int { return r.t.Len() }

// Cap returns the configured capacity.
func (r *Registry) Cap() int { return r.t.Cap() }

// Reset forgets every task.
func (r *Registry) Reset() { r.t.Reset() }

// Snapshot copies the registry, ordered by task id.
func (r *Registry) Snapshot() []types.TaskStat {
	out := make([]types.TaskStat, 0, r.t.Len())
	r.t.Range(func(key uint32, info types.TaskInfo) bool {
		out = append(out, types.TaskStat{ID: types.TaskID(key), TaskInfo: info})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
