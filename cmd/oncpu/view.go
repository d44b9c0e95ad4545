package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/srodi/oncpu-bpf/pkg/config"
	"github.com/srodi/oncpu-bpf/pkg/oncpu"
	"github.com/srodi/oncpu-bpf/pkg/report"
	"github.com/srodi/oncpu-bpf/pkg/ui"
)

// reporter polls the accounting tables once per tick.
type reporter struct {
	cfg     config.Config
	handler *oncpu.Handler
	namer   report.CgroupNamer
	differ  report.Differ
	json    *report.JSONWriter
	filter  report.FilterConfig
	start   time.Time
}

func newReporter(cfg config.Config, h *oncpu.Handler, namer report.CgroupNamer, start time.Time) *reporter {
	r := &reporter{
		cfg:     cfg,
		handler: h,
		namer:   namer,
		start:   start,
		filter:  report.FilterConfig{HideKernel: &cfg.HideKernel, CgroupFilter: cfg.CgroupFilter},
	}
	// The first window is measured from start up.
	r.differ.Window(report.Snapshot{At: start})
	return r
}

func (r *reporter) emit(w io.Writer, now time.Time) error {
	snap := report.Take(r.handler.Registry(), r.handler.Accumulator(), now)
	gains, window := r.differ.Window(snap)
	if r.cfg.ResetEachInterval {
		r.handler.Accumulator().Reset()
		r.differ.Forget()
	}
	// Exited tasks are dropped only once a snapshot has seen their last slice.
	r.handler.Reap()

	rows := report.BuildTaskMetrics(report.CPUStats(gains, snap.Tasks, r.namer), window)
	rows = report.FilterMetrics(rows, r.filter)

	if r.cfg.Output == config.OutputJSON {
		if r.json == nil {
			r.json = report.NewJSONWriter(w, r.start)
		}
		return r.json.WriteWindow(now, rows)
	}
	return r.printTable(w, now, window, rows)
}

// close terminates the JSON document, if one was started.
func (r *reporter) close() error {
	if r.json == nil {
		return nil
	}
	return r.json.Close()
}

func (r *reporter) printTable(w io.Writer, now time.Time, window time.Duration, rows []report.TaskMetrics) error {
	var buf bytes.Buffer
	buf.WriteString(ui.Banner())
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "oncpu (press Ctrl+C to exit)\n")
	fmt.Fprintf(&buf, "Updated: %s | Interval: %v | Tracked: %d/%d\n\n",
		now.Format(time.RFC3339), r.cfg.Interval, r.handler.Registry().Len(), r.handler.Registry().Cap())

	if focus := report.SelectFocusCandidate(rows); focus != nil {
		fmt.Fprintf(&buf, "[!] Focus: %s (pid %d)\n", focus.Comm, focus.PID)
		fmt.Fprintf(&buf, "   Reason: %s - %s\n\n", focus.Diagnosis, report.FocusSummary(*focus))
	} else if len(rows) == 0 {
		fmt.Fprintf(&buf, "[!] No tasks matched current filters (topk=%d, hide-kernel=%t)\n\n", r.cfg.TopK, r.cfg.HideKernel)
	}

	fmt.Fprintf(&buf, "[Top %d CPU, window %v]\n", r.cfg.TopK, window.Round(time.Millisecond))
	if err := report.WriteCPUTable(&buf, report.CPUUsageRows(rows, r.cfg.TopK)); err != nil {
		return err
	}

	fmt.Fprintf(&buf, "\n[CPU by cgroup]\n")
	groups := report.CgroupUsage(rows)
	if len(groups) > r.cfg.TopK {
		groups = groups[:r.cfg.TopK]
	}
	if err := report.WriteCgroupTable(&buf, groups); err != nil {
		return err
	}

	clearScreen(w)
	_, err := w.Write(buf.Bytes())
	return err
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\033[H\033[2J")
}
