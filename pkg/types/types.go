package types

import "bytes"

// DefaultTopK controls how many top tasks we display per window.
const DefaultTopK = 5

// CommLen is the kernel's TASK_COMM_LEN.
const CommLen = 16

// TaskID identifies a schedulable task (a kernel pid, i.e. a thread id).
type TaskID uint32

// Comm is the NUL padded short executable name the kernel keeps per task.
type Comm [CommLen]byte

// String trims the NUL padding.
func (c Comm) String() string {
	if n := bytes.IndexByte(c[:], 0); n >= 0 {
		return string(c[:n])
	}
	return string(c[:])
}

// CommFrom truncates s to fit a Comm.
func CommFrom(s string) Comm {
	var c Comm
	copy(c[:], s)
	return c
}

// TaskInfo is the metadata recorded for a task when it is first scheduled in.
type TaskInfo struct {
	// StartTime is the monotonic timestamp (ns) of the latest scheduled-in event.
	StartTime uint64
	Cgroup    uint32
	Name      Comm
}

// Unattributed reports whether the task was first seen in the root cgroup
// (ids 0 and 1), which carries no useful attribution.
func (t TaskInfo) Unattributed() bool {
	return t.Cgroup <= 1
}

// TaskStat is one row of a registry snapshot.
type TaskStat struct {
	ID TaskID
	TaskInfo
}

// SwitchEvent is one context switch on one CPU.
type SwitchEvent struct {
	CPU         uint32
	PrevID      TaskID
	NextID      TaskID
	TimestampNs uint64
	NextName    Comm
	NextCgroup  uint32
}

// ExitEvent reports that a task is gone and its id may be reused.
type ExitEvent struct {
	CPU         uint32
	ID          TaskID
	TimestampNs uint64
}

// CPUStat holds how much CPU time a task consumed during a window.
type CPUStat struct {
	PID    uint32
	Comm   string
	Cgroup string
	Ns     uint64
}
