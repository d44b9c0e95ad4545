package report

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/srodi/oncpu-bpf/pkg/types"
)

func pinCPUs(t *testing.T, n int) {
	t.Helper()
	orig := numCPU
	t.Cleanup(func() { numCPU = orig })
	numCPU = func() int { return n }
}

func TestBuildTaskMetricsComputesShares(t *testing.T) {
	pinCPUs(t, 4)

	interval := time.Second
	stats := []types.CPUStat{
		{PID: 10, Comm: "idler", Cgroup: "/a", Ns: uint64((10 * time.Millisecond).Nanoseconds())},
		{PID: 20, Comm: "spinner", Cgroup: "/b", Ns: uint64((950 * time.Millisecond).Nanoseconds())},
		{PID: 30, Comm: "worker", Cgroup: "/b", Ns: uint64((600 * time.Millisecond).Nanoseconds())},
	}

	rows := BuildTaskMetrics(stats, interval)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].PID != 20 || rows[1].PID != 30 || rows[2].PID != 10 {
		t.Fatalf("rows not ordered by CPU time: %+v", rows)
	}
	spinner := rows[0]
	if math.Abs(spinner.CPUMs-950) > 1e-6 {
		t.Fatalf("unexpected CPUMs: %.3f", spinner.CPUMs)
	}
	if math.Abs(spinner.CPUPercent-23.75) > 1e-6 {
		t.Fatalf("unexpected CPU%%: %.4f", spinner.CPUPercent)
	}
	if math.Abs(spinner.CoreShare-0.95) > 1e-9 {
		t.Fatalf("unexpected core share: %.4f", spinner.CoreShare)
	}
	if spinner.Diagnosis != "CPU-bound" || rows[1].Diagnosis != "Busy" || rows[2].Diagnosis != "OK" {
		t.Fatalf("unexpected diagnoses: %s %s %s", spinner.Diagnosis, rows[1].Diagnosis, rows[2].Diagnosis)
	}
}

func TestBuildTaskMetricsDefaultsInterval(t *testing.T) {
	pinCPUs(t, 1)

	ns := uint64((2 * time.Millisecond).Nanoseconds())
	rows := BuildTaskMetrics([]types.CPUStat{{PID: 99, Comm: "tiny", Ns: ns}}, 0)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if math.Abs(rows[0].CPUPercent-0.2) > 1e-9 {
		t.Fatalf("expected a one second window fallback, got %.4f%%", rows[0].CPUPercent)
	}
}

func TestFilterMetricsRespectsKernelAndCgroup(t *testing.T) {
	rows := []TaskMetrics{
		{PID: 1, Comm: "kworker/0:1", Cgroup: "/kernel"},
		{PID: 42, Comm: "api", Cgroup: "/kubepods/burst"},
		{PID: 43, Comm: "db", Cgroup: "/docker/db"},
	}

	visible := FilterMetrics(rows, FilterConfig{})
	if len(visible) != 2 {
		t.Fatalf("expected 2 user rows, got %d", len(visible))
	}
	cfg := FilterConfig{HideKernel: boolPtr(false), CgroupFilter: "kube"}
	scoped := FilterMetrics(rows, cfg)
	if len(scoped) != 1 || scoped[0].PID != 42 {
		t.Fatalf("expected only kube cgroup row, got %+v", scoped)
	}
}

func TestCPUUsageRows(t *testing.T) {
	rows := []TaskMetrics{
		{PID: 1, CPUNs: 0},
		{PID: 2, CPUNs: 10},
		{PID: 3, CPUNs: 5},
	}
	top := CPUUsageRows(rows, 2)
	if len(top) != 2 {
		t.Fatalf("expected top 2 rows, got %d", len(top))
	}
	if top[0].PID != 2 || top[1].PID != 3 {
		t.Fatalf("unexpected order: %+v", top)
	}
}

func TestCgroupUsageSumsRows(t *testing.T) {
	rows := []TaskMetrics{
		{PID: 1, Cgroup: "/a", CPUNs: 5, CPUMs: 0.005},
		{PID: 2, Cgroup: "/b", CPUNs: 7, CPUMs: 0.007},
		{PID: 3, Cgroup: "/a", CPUNs: 4, CPUMs: 0.004},
	}
	groups := CgroupUsage(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 cgroups, got %d", len(groups))
	}
	if groups[0].Cgroup != "/a" || groups[0].CPUNs != 9 {
		t.Fatalf("expected /a first with 9ns, got %+v", groups[0])
	}
	if groups[1].Cgroup != "/b" || groups[1].CPUNs != 7 {
		t.Fatalf("unexpected second cgroup: %+v", groups[1])
	}
}

func TestSelectFocusCandidate(t *testing.T) {
	t.Run("busiestFlagged", func(t *testing.T) {
		rows := []TaskMetrics{
			{PID: 1, Diagnosis: "OK", CPUNs: 100},
			{PID: 2, Diagnosis: "Busy", CPUNs: 600},
			{PID: 3, Diagnosis: "CPU-bound", CPUNs: 950},
		}
		candidate := SelectFocusCandidate(rows)
		if candidate == nil || candidate.PID != 3 {
			t.Fatalf("expected CPU-bound row, got %+v", candidate)
		}
	})

	t.Run("nothingFlagged", func(t *testing.T) {
		rows := []TaskMetrics{{PID: 10, Diagnosis: "OK", CPUNs: 5}}
		if candidate := SelectFocusCandidate(rows); candidate != nil {
			t.Fatalf("expected no candidate, got %+v", candidate)
		}
	})
}

func TestFocusSummary(t *testing.T) {
	cases := []struct {
		name     string
		row      TaskMetrics
		expected string
	}{
		{"cpu", TaskMetrics{Diagnosis: "CPU-bound", CoreShare: 0.97, CPUPercent: 24}, "core 97% busy"},
		{"busy", TaskMetrics{Diagnosis: "Busy", CoreShare: 0.6, CPUMs: 600}, "600.0ms"},
		{"default", TaskMetrics{Diagnosis: "OK", CPUPercent: 3}, "3.0% CPU"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary := FocusSummary(tc.row)
			if !strings.Contains(summary, tc.expected) {
				t.Fatalf("summary %q does not contain %q", summary, tc.expected)
			}
		})
	}
}

func TestIsKernelThread(t *testing.T) {
	cases := []struct {
		row      TaskMetrics
		expected bool
	}{
		{TaskMetrics{PID: 0}, true},
		{TaskMetrics{PID: 1, Comm: "kworker/0:1"}, true},
		{TaskMetrics{PID: 2, Comm: "ksoftirqd/1"}, true},
		{TaskMetrics{PID: 3, Comm: "user"}, false},
	}
	for _, tc := range cases {
		if got := isKernelThread(tc.row); got != tc.expected {
			t.Fatalf("kernel detection mismatch for %+v: got %v", tc.row, got)
		}
	}
}

func TestPassesFilters(t *testing.T) {
	row := TaskMetrics{PID: 10, Comm: "app", Cgroup: "/kubepods"}
	if !passesFilters(row, FilterConfig{}) {
		t.Fatalf("expected row to pass default filters")
	}
	if passesFilters(TaskMetrics{PID: 1, Comm: "kworker"}, FilterConfig{}) {
		t.Fatalf("kernel thread should be hidden by default")
	}
	cfg := FilterConfig{HideKernel: boolPtr(false), CgroupFilter: "kube"}
	if !passesFilters(row, cfg) {
		t.Fatalf("expected kube row to pass cgroup filter")
	}
	cfg.CgroupFilter = "db"
	if passesFilters(row, cfg) {
		t.Fatalf("unexpected cgroup match")
	}
}

func boolPtr(v bool) *bool { return &v }
