package report

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/srodi/oncpu-bpf/pkg/types"
)

// numCPU allows tests to pin the machine size.
var numCPU = runtime.NumCPU

// TaskMetrics condenses the on-CPU time of one task during one window.
type TaskMetrics struct {
	PID        uint32
	Comm       string
	Cgroup     string
	CPUNs      uint64
	CPUMs      float64
	CPUPercent float64 // share of the whole machine
	CoreShare  float64 // share of a single core
	Diagnosis  string
}

// FilterConfig controls which tasks appear in CLI tables.
type FilterConfig struct {
	HideKernel   *bool // nil defaults to true so kernel threads stay hidden unless explicitly shown
	CgroupFilter string
}

func (cfg FilterConfig) hideKernelEnabled() bool {
	if cfg.HideKernel == nil {
		return true
	}
	return *cfg.HideKernel
}

// BuildTaskMetrics turns per-task window stats into rows sorted by CPU time.
func BuildTaskMetrics(cpuStats []types.CPUStat, interval time.Duration) []TaskMetrics {
	if interval <= 0 {
		interval = time.Second
	}
	windowNs := float64(interval.Nanoseconds())
	totalCapacity := windowNs * float64(numCPU())

	rows := make([]TaskMetrics, 0, len(cpuStats))
	for _, stat := range cpuStats {
		row := TaskMetrics{
			PID:       stat.PID,
			Comm:      stat.Comm,
			Cgroup:    stat.Cgroup,
			CPUNs:     stat.Ns,
			CPUMs:     float64(stat.Ns) / 1e6,
			CoreShare: float64(stat.Ns) / windowNs,
		}
		if totalCapacity > 0 {
			row.CPUPercent = 100 * float64(stat.Ns) / totalCapacity
		}
		row.Diagnosis = classifyTask(row)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CPUNs == rows[j].CPUNs {
			return rows[i].PID < rows[j].PID
		}
		return rows[i].CPUNs > rows[j].CPUNs
	})
	return rows
}

// FilterMetrics applies HideKernel/cgroup filters before ranking tables.
func FilterMetrics(rows []TaskMetrics, cfg FilterConfig) []TaskMetrics {
	filtered := make([]TaskMetrics, 0, len(rows))
	for _, row := range rows {
		if passesFilters(row, cfg) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// CPUUsageRows returns the highest CPUNs rows up to topK.
func CPUUsageRows(rows []TaskMetrics, topK int) []TaskMetrics {
	candidates := make([]TaskMetrics, 0, len(rows))
	for _, row := range rows {
		if row.CPUNs == 0 {
			continue
		}
		candidates = append(candidates, row)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].CPUNs > candidates[j].CPUNs })
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

// CgroupUsage sums the rows per cgroup, busiest first.
func CgroupUsage(rows []TaskMetrics) []TaskMetrics {
	byCgroup := make(map[string]*TaskMetrics)
	for _, row := range rows {
		agg, ok := byCgroup[row.Cgroup]
		if !ok {
			agg = &TaskMetrics{Cgroup: row.Cgroup}
			byCgroup[row.Cgroup] = agg
		}
		agg.CPUNs += row.CPUNs
		agg.CPUMs += row.CPUMs
		agg.CPUPercent += row.CPUPercent
		agg.CoreShare += row.CoreShare
	}
	out := make([]TaskMetrics, 0, len(byCgroup))
	for _, agg := range byCgroup {
		agg.Diagnosis = classifyTask(*agg)
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CPUNs == out[j].CPUNs {
			return out[i].Cgroup < out[j].Cgroup
		}
		return out[i].CPUNs > out[j].CPUNs
	})
	return out
}

// SelectFocusCandidate picks the most interesting task to summarize for the operator.
func SelectFocusCandidate(rows []TaskMetrics) *TaskMetrics {
	var best *TaskMetrics
	for _, row := range rows {
		if diagnosisSeverity(row.Diagnosis) == 0 {
			continue
		}
		if best == nil || row.CPUNs > best.CPUNs {
			copy := row
			best = &copy
		}
	}
	return best
}

// FocusSummary returns a short explanation string for the status line.
func FocusSummary(row TaskMetrics) string {
	switch row.Diagnosis {
	case "CPU-bound":
		return fmt.Sprintf("kept a core %.0f%% busy (%.1f%% of the machine)",
			100*row.CoreShare, row.CPUPercent)
	case "Busy":
		return fmt.Sprintf("%.0f%% of a core, %.1fms on CPU",
			100*row.CoreShare, row.CPUMs)
	default:
		return fmt.Sprintf("%.1f%% CPU", row.CPUPercent)
	}
}

func classifyTask(row TaskMetrics) string {
	switch {
	case row.CoreShare >= 0.9:
		return "CPU-bound"
	case row.CoreShare >= 0.5:
		return "Busy"
	default:
		return "OK"
	}
}

func passesFilters(row TaskMetrics, cfg FilterConfig) bool {
	if cfg.hideKernelEnabled() && isKernelThread(row) {
		return false
	}
	if cfg.CgroupFilter != "" {
		cg := strings.ToLower(row.Cgroup)
		if !strings.Contains(cg, cfg.CgroupFilter) {
			return false
		}
	}
	return true
}

func isKernelThread(row TaskMetrics) bool {
	if row.PID == 0 {
		return true
	}
	name := strings.ToLower(row.Comm)
	switch {
	case strings.HasPrefix(name, "kworker"), strings.HasPrefix(name, "ksoftirqd"), strings.HasPrefix(name, "kthreadd"),
		strings.HasPrefix(name, "migration"), strings.HasPrefix(name, "watchdog"), strings.HasPrefix(name, "rcu"),
		strings.HasPrefix(name, "irq/"), strings.HasPrefix(name, "swapper"):
		return true
	}
	return false
}

func diagnosisSeverity(label string) int {
	switch label {
	case "CPU-bound":
		return 2
	case "Busy":
		return 1
	default:
		return 0
	}
}
