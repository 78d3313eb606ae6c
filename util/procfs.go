package util

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultProcRoot is where procfs is normally mounted.
const DefaultProcRoot = "/proc"

// ProcStat holds the /proc/[pid]/stat fields xmem cares about.
type ProcStat struct {
	PID   int
	Comm  string
	State string
	PPID  int
	UTime uint64 // clock ticks
	STime uint64 // clock ticks
}

// PIDs returns the numeric entries of a procfs root.
func PIDs(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid := ParseInt(e.Name())
		if pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// ReadStat parses /proc/[pid]/stat.
func ReadStat(root string, pid int) (ProcStat, error) {
	st := ProcStat{PID: pid}
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return st, err
	}
	content := string(data)

	// comm can contain spaces and parens, so split on the last ')'
	closeIdx := strings.LastIndex(content, ")")
	openIdx := strings.Index(content, "(")
	if openIdx < 0 || closeIdx < openIdx || closeIdx+2 > len(content) {
		return st, fmt.Errorf("bad stat format for pid %d", pid)
	}
	st.Comm = content[openIdx+1 : closeIdx]
	rest := strings.Fields(content[closeIdx+1:])
	if len(rest) < 13 {
		return st, fmt.Errorf("stat too short for pid %d", pid)
	}
	st.State = rest[0]
	st.PPID = ParseInt(rest[1])
	st.UTime = ParseUint64(rest[11])
	st.STime = ParseUint64(rest[12])
	return st, nil
}

// ReadRSS returns VmRSS in bytes from /proc/[pid]/status.
// Kernel threads have no VmRSS and report 0.
func ReadRSS(root string, pid int) (uint64, error) {
	kv, err := ParseKeyValueFile(filepath.Join(root, strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, err
	}
	return ParseKB(kv["VmRSS"]), nil
}

// CgroupPath returns the unified (v2) cgroup path of a process, falling back
// to the first hierarchy listed.
func CgroupPath(root string, pid int) string {
	lines, err := ReadFileLines(filepath.Join(root, strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return ""
	}
	fallback := ""
	for _, line := range lines {
		// hierarchy-ID:controller-list:cgroup-path
		parts := strings.SplitN(strings.TrimSpace(line), ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" {
			return parts[2]
		}
		if fallback == "" {
			fallback = parts[2]
		}
	}
	return fallback
}

// ReadFileLines reads a file and returns its lines.
func ReadFileLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// ParseKeyValueFile parses "key: value" or "key value" lines.
func ParseKeyValueFile(path string) (map[string]string, error) {
	lines, err := ReadFileLines(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var key, val string
		if idx := strings.Index(line, ":"); idx >= 0 {
			key = strings.TrimSpace(line[:idx])
			val = strings.TrimSpace(line[idx+1:])
		} else if fields := strings.Fields(line); len(fields) >= 2 {
			key = fields[0]
			val = strings.Join(fields[1:], " ")
		}
		if key != "" {
			m[key] = val
		}
	}
	return m, nil
}

// ParseKB parses a value like "1234 kB" and returns bytes.
func ParseKB(s string) uint64 {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	return ParseUint64(fields[0]) * 1024
}

// ParseUint64 parses a string to uint64, returning 0 on error.
func ParseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return v
}

// ParseFloat64 parses a string to float64, returning 0 on error.
func ParseFloat64(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// ParseInt parses a string to int, returning 0 on error.
func ParseInt(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}
