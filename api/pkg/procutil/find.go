package procutil

import (
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// FindProcesses returns pids whose comm (exact) or command line
// (substring) matches pattern. It walks /proc directly via gopsutil and
// never shells out to an external matcher.
func FindProcesses(pattern string, exact bool) []int32 {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	var pids []int32
	for _, p := range procs {
		if exact {
			name, err := p.Name()
			if err == nil && name == pattern {
				pids = append(pids, p.Pid)
				continue
			}
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue
		}
		if strings.Contains(cmdline, pattern) {
			pids = append(pids, p.Pid)
		}
	}
	return pids
}

// ListExeProcesses returns the sorted, de-duplicated comm names of
// processes that look like Windows executables running under the
// compatibility layer.
func ListExeProcesses() []string {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	var names []string
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.HasSuffix(name, ".exe") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
