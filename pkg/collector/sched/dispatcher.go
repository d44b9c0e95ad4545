package sched

import (
	"sync"

	"github.com/srodi/oncpu-bpf/pkg/types"
)

// DefaultQueueDepth bounds the backlog of each dispatcher worker.
const DefaultQueueDepth = 4096

type item struct {
	exit bool
	sw   types.SwitchEvent
	ex   types.ExitEvent
}

// Dispatcher fans events out to a fixed pool of workers. Events of one CPU
// always land on the same worker, so each CPU's stream is applied in the
// order it was recorded while different CPUs are applied concurrently.
type Dispatcher struct {
	sink   Sink
	queues []chan item
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines forwarding to sink.
func NewDispatcher(sink Sink, workers, depth int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	d := &Dispatcher{sink: sink, queues: make([]chan item, workers)}
	for i := range d.queues {
		q := make(chan item, depth)
		d.queues[i] = q
		d.wg.Add(1)
		go d.work(q)
	}
	return d
}

func (d *Dispatcher) work(q <-chan item) {
	defer d.wg.Done()
	for it := range q {
		if it.exit {
			d.sink.HandleExit(it.ex)
		} else {
			d.sink.HandleSwitch(it.sw)
		}
	}
}

func (d *Dispatcher) queue(cpu uint32) chan<- item {
	return d.queues[int(cpu)%len(d.queues)]
}

// HandleSwitch queues ev on its CPU's worker. It blocks while that worker is
// backlogged.
func (d *Dispatcher) HandleSwitch(ev types.SwitchEvent) {
	d.queue(ev.CPU) <- item{sw: ev}
}

// HandleExit queues ev on its CPU's worker.
func (d *Dispatcher) HandleExit(ev types.ExitEvent) {
	d.queue(ev.CPU) <- item{exit: true, ex: ev}
}

// Stop drains the queues and waits for the workers. The dispatcher must not
// receive events afterwards.
func (d *Dispatcher) Stop() {
	for _, q := range d.queues {
		close(q)
	}
	d.wg.Wait()
}
