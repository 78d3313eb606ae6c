package effector

import (
	"path/filepath"
	"strings"

	"github.com/ftahirops/xmem/util"
)

// DetectCgroupRoot returns the cgroup2 mount point listed in
// <procRoot>/mounts, or DefaultCgroupRoot when none is mounted.
func DetectCgroupRoot(procRoot string) string {
	lines, err := util.ReadFileLines(filepath.Join(procRoot, "mounts"))
	if err != nil {
		return DefaultCgroupRoot
	}
	for _, line := range lines {
		// device mountpoint fstype options dump pass
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[2] == "cgroup2" {
			return fields[1]
		}
	}
	return DefaultCgroupRoot
}
