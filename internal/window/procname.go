package window

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// processName resolves a pid to its command name. Swapped in tests.
var processName = procComm

// procComm reads /proc/<pid>/comm; empty when the process is gone or the
// platform has no procfs
func procComm(pid uint64) string {
	if pid == 0 {
		return ""
	}
	data, err := os.ReadFile(filepath.Join("/proc", strconv.FormatUint(pid, 10), "comm"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
