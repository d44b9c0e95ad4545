package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteCPUTable renders the top rows as an aligned table.
func WriteCPUTable(w io.Writer, rows []TaskMetrics) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No CPU samples for this window")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tCOMM\tCGROUP\tCPU(ms)\tCPU(%)\tDiag")
	for _, row := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%s\n", row.PID, row.Comm, row.Cgroup, row.CPUMs, row.CPUPercent, row.Diagnosis)
	}
	return tw.Flush()
}

// WriteCgroupTable renders per-cgroup totals.
func WriteCgroupTable(w io.Writer, rows []TaskMetrics) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No cgroups active in this window")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CGROUP\tCPU(ms)\tCPU(%)\tCORES")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\n", row.Cgroup, row.CPUMs, row.CPUPercent, row.CoreShare)
	}
	return tw.Flush()
}

// JSONWriter streams windows as a single JSON array in the agent's report
// format: one object per line, each followed by a comma, and a closing {}]
// written by Close. Each window starts with a {"ts": seconds} marker; the name
// of a cgroup and of a task is emitted the first time it is seen, followed by
// one {"cpu": pid, "v": ms} object per task.
type JSONWriter struct {
	w       io.Writer
	start   time.Time
	opened  bool
	cgroups map[string]int
	tasks   map[uint32]struct{}
}

// NewJSONWriter measures window timestamps from start.
func NewJSONWriter(w io.Writer, start time.Time) *JSONWriter {
	return &JSONWriter{
		w:       w,
		start:   start,
		cgroups: make(map[string]int),
		tasks:   make(map[uint32]struct{}),
	}
}

type tsLine struct {
	TS float64 `json:"ts"`
}

type cgroupLine struct {
	Cgroup int    `json:"cgr"`
	Name   string `json:"v"`
}

type taskLine struct {
	PID    uint32 `json:"pid"`
	Name   string `json:"v"`
	Cgroup int    `json:"c"`
}

type cpuLine struct {
	PID uint32  `json:"cpu"`
	Ms  float64 `json:"v"`
}

func (j *JSONWriter) open() error {
	if j.opened {
		return nil
	}
	if _, err := io.WriteString(j.w, "[\n"); err != nil {
		return fmt.Errorf("opening report: %w", err)
	}
	j.opened = true
	return nil
}

func (j *JSONWriter) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, ',', '\n')
	_, err = j.w.Write(data)
	return err
}

// WriteWindow emits one window taken at at.
func (j *JSONWriter) WriteWindow(at time.Time, rows []TaskMetrics) error {
	if err := j.open(); err != nil {
		return err
	}
	if err := j.write(tsLine{TS: roundMs(at.Sub(j.start).Seconds())}); err != nil {
		return fmt.Errorf("writing window marker: %w", err)
	}
	for _, row := range rows {
		cg, ok := j.cgroups[row.Cgroup]
		if !ok {
			cg = len(j.cgroups) + 1
			j.cgroups[row.Cgroup] = cg
			if err := j.write(cgroupLine{Cgroup: cg, Name: row.Cgroup}); err != nil {
				return fmt.Errorf("writing cgroup %s: %w", row.Cgroup, err)
			}
		}
		if _, ok := j.tasks[row.PID]; !ok {
			j.tasks[row.PID] = struct{}{}
			if err := j.write(taskLine{PID: row.PID, Name: row.Comm, Cgroup: cg}); err != nil {
				return fmt.Errorf("writing task %d: %w", row.PID, err)
			}
		}
		if err := j.write(cpuLine{PID: row.PID, Ms: roundMs(row.CPUMs)}); err != nil {
			return fmt.Errorf("writing cpu of task %d: %w", row.PID, err)
		}
	}
	return nil
}

// Close terminates the array. The writer must not be used afterwards.
func (j *JSONWriter) Close() error {
	if err := j.open(); err != nil {
		return err
	}
	if _, err := io.WriteString(j.w, "{}]\n"); err != nil {
		return fmt.Errorf("closing report: %w", err)
	}
	return nil
}

func roundMs(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
