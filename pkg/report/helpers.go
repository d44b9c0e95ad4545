package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procReadFile allows tests to stub reading /proc/PID/comm.
var procReadFile = os.ReadFile

// commForPID picks the display name of a task: the name recorded when it
// was first scheduled, else its current /proc comm, else a pid placeholder.
func commForPID(pid uint32, recorded string, cache map[uint32]string) string {
	if pid == 0 {
		return "idle"
	}
	if recorded != "" {
		return recorded
	}
	if name, ok := cache[pid]; ok {
		return name
	}
	path := filepath.Join("/proc", strconv.FormatUint(uint64(pid), 10), "comm")
	data, err := procReadFile(path)
	if err != nil {
		name := fmt.Sprintf("pid-%d", pid)
		cache[pid] = name
		return name
	}
	comm := strings.TrimSpace(string(data))
	if comm == "" {
		comm = fmt.Sprintf("pid-%d", pid)
	}
	cache[pid] = comm
	return comm
}
