//go:build linux
// +build linux

package sched

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"
)

// pollInterval bounds how long Run waits on an idle ring buffer before it
// checks for cancellation.
const pollInterval = 200 * time.Millisecond

type oncpuObjects struct {
	HandleSchedSwitch *ebpf.Program `ebpf:"handle_sched_switch"`
	HandleSchedExit   *ebpf.Program `ebpf:"handle_sched_exit"`
	Events            *ebpf.Map     `ebpf:"events"`
}

func (o *oncpuObjects) Close() error {
	var err error
	if o.HandleSchedSwitch != nil {
		err = errors.Join(err, o.HandleSchedSwitch.Close())
	}
	if o.HandleSchedExit != nil {
		err = errors.Join(err, o.HandleSchedExit.Close())
	}
	if o.Events != nil {
		err = errors.Join(err, o.Events.Close())
	}
	return err
}

// Options configures a Collector.
type Options struct {
	// ObjectPath is the compiled bpf/oncpu.c object.
	ObjectPath string
	// RingBufferSize overrides the ring buffer size in bytes when non-zero.
	// It must be a power-of-two multiple of the page size.
	RingBufferSize uint32
	// TrackExits attaches the exit hook so exited tasks are forgotten.
	TrackExits bool
}

// Collector owns the eBPF programs feeding switch and exit events to user
// space.
type Collector struct {
	objs   oncpuObjects
	links  []link.Link
	reader *ringbuf.Reader
	logger *zap.Logger
}

// NewCollector loads the eBPF object and attaches it to the scheduler.
func NewCollector(opts Options, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(opts.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("loading bpf object %s: %w", opts.ObjectPath, err)
	}
	if opts.RingBufferSize > 0 {
		if m, ok := spec.Maps["events"]; ok {
			m.MaxEntries = opts.RingBufferSize
		}
	}

	c := &Collector{logger: logger}
	if err := spec.LoadAndAssign(&c.objs, nil); err != nil {
		return nil, fmt.Errorf("loading bpf objects: %w", err)
	}

	sw, err := link.AttachTracing(link.TracingOptions{Program: c.objs.HandleSchedSwitch})
	if err != nil {
		c.objs.Close()
		return nil, fmt.Errorf("attaching sched_switch: %w", err)
	}
	c.links = append(c.links, sw)

	if opts.TrackExits {
		ex, err := link.AttachTracing(link.TracingOptions{Program: c.objs.HandleSchedExit})
		if err != nil {
			logger.Warn("exit tracking unavailable, ids of exited tasks will keep stale metadata",
				zap.Error(err))
		} else {
			c.links = append(c.links, ex)
		}
	}

	c.reader, err = ringbuf.NewReader(c.objs.Events)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}

	logger.Info("eBPF programs attached", zap.Int("links", len(c.links)))
	return c, nil
}

// Run forwards events to sink until ctx is cancelled or the collector is
// closed.
func (c *Collector) Run(ctx context.Context, sink Sink) error {
	var record ringbuf.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		c.reader.SetDeadline(time.Now().Add(pollInterval))
		if err := c.reader.ReadInto(&record); err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case errors.Is(err, ringbuf.ErrClosed):
				return nil
			default:
				return fmt.Errorf("reading ring buffer: %w", err)
			}
		}
		if err := decode(record.RawSample, sink); err != nil {
			c.logger.Debug("dropping malformed event", zap.Error(err))
		}
	}
}

// Close detaches the programs and releases the BPF resources.
func (c *Collector) Close() error {
	var err error
	if c.reader != nil {
		err = errors.Join(err, c.reader.Close())
	}
	for _, l := range c.links {
		err = errors.Join(err, l.Close())
	}
	return errors.Join(err, c.objs.Close())
}
