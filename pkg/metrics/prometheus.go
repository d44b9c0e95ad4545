// Package metrics exposes the accounting tables and the handler's recovery
// counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/srodi/oncpu-bpf/pkg/oncpu"
	"github.com/srodi/oncpu-bpf/pkg/report"
)

const namespace = "oncpu"

// Diagnostics counts the conditions the switch handler recovers from. It
// implements oncpu.Diagnostics.
type Diagnostics struct {
	registryFull    prometheus.Counter
	accumulatorFull prometheus.Counter
	clockAnomaly    prometheus.Counter
	unknownPrev     prometheus.Counter
}

var _ oncpu.Diagnostics = (*Diagnostics)(nil)

// NewDiagnostics registers the counters with reg.
func NewDiagnostics(reg prometheus.Registerer) *Diagnostics {
	dropped := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_untracked_total",
			Help:      "Inserts refused because an accounting table was full",
		},
		[]string{"table"},
	)
	return &Diagnostics{
		registryFull:    dropped.WithLabelValues("registry"),
		accumulatorFull: dropped.WithLabelValues("accumulator"),
		clockAnomaly: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_anomalies_total",
			Help:      "Switches whose timestamp preceded the task's recorded start",
		}),
		unknownPrev: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_prev_total",
			Help:      "Switches away from a task never seen being scheduled in",
		}),
	}
}

func (d *Diagnostics) RegistryFull()    { d.registryFull.Inc() }
func (d *Diagnostics) AccumulatorFull() { d.accumulatorFull.Inc() }
func (d *Diagnostics) ClockAnomaly()    { d.clockAnomaly.Inc() }
func (d *Diagnostics) UnknownPrev()     { d.unknownPrev.Inc() }

// TableCollector reads both tables at scrape time.
type TableCollector struct {
	registry *oncpu.Registry
	oncpu    *oncpu.Accumulator
	namer    report.CgroupNamer

	taskSeconds *prometheus.Desc
	entries     *prometheus.Desc
	capacity    *prometheus.Desc
}

// NewTableCollector returns a collector over the handler's tables. namer may
// be nil.
func NewTableCollector(h *oncpu.Handler, namer report.CgroupNamer) *TableCollector {
	return &TableCollector{
		registry: h.Registry(),
		oncpu:    h.Accumulator(),
		namer:    namer,
		taskSeconds: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "task", "cpu_seconds_total"),
			"Cumulative time the task spent on a CPU",
			[]string{"pid", "comm", "cgroup"}, nil,
		),
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "table", "entries"),
			"Live entries per accounting table",
			[]string{"table"}, nil,
		),
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "table", "capacity"),
			"Configured capacity per accounting table",
			[]string{"table"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.taskSeconds
	ch <- c.entries
	ch <- c.capacity
}

// Collect implements prometheus.Collector.
func (c *TableCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(c.registry.Len()), "registry")
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(c.oncpu.Len()), "accumulator")
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.registry.Cap()), "registry")
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.oncpu.Cap()), "accumulator")

	snap := report.Take(c.registry, c.oncpu, time.Now())
	for _, stat := range report.CPUStats(snap.OnCPU, snap.Tasks, c.namer) {
		ch <- prometheus.MustNewConstMetric(c.taskSeconds, prometheus.CounterValue,
			float64(stat.Ns)/1e9,
			strconv.FormatUint(uint64(stat.PID), 10), stat.Comm, stat.Cgroup)
	}
}
