package sched

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/srodi/oncpu-bpf/pkg/types"
)

const (
	eventSwitch uint32 = 1
	eventExit   uint32 = 2
)

// rawEvent mirrors struct event in bpf/oncpu.c.
type rawEvent struct {
	Kind    uint32
	CPU     uint32
	PrevPID uint32
	NextPID uint32
	Ts      uint64
	Cgroup  uint32
	_       uint32
	Comm    types.Comm
}

var rawEventSize = int(unsafe.Sizeof(rawEvent{}))

// Sink consumes decoded events.
type Sink interface {
	HandleSwitch(types.SwitchEvent)
	HandleExit(types.ExitEvent)
}

// decode parses one ring buffer record and forwards it to sink.
func decode(sample []byte, sink Sink) error {
	if len(sample) < rawEventSize {
		return fmt.Errorf("short event: %d bytes, want %d", len(sample), rawEventSize)
	}
	var raw rawEvent
	if err := binary.Read(bytes.NewReader(sample[:rawEventSize]), binary.LittleEndian, &raw); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}

	switch raw.Kind {
	case eventSwitch:
		sink.HandleSwitch(types.SwitchEvent{
			CPU:         raw.CPU,
			PrevID:      types.TaskID(raw.PrevPID),
			NextID:      types.TaskID(raw.NextPID),
			TimestampNs: raw.Ts,
			NextName:    raw.Comm,
			NextCgroup:  raw.Cgroup,
		})
	case eventExit:
		sink.HandleExit(types.ExitEvent{
			CPU:         raw.CPU,
			ID:          types.TaskID(raw.PrevPID),
			TimestampNs: raw.Ts,
		})
	default:
		return fmt.Errorf("unknown event kind %d", raw.Kind)
	}
	return nil
}
