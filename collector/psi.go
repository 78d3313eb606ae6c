package collector

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ftahirops/xmem/util"
)

// DefaultPressureThreshold is the memory "full" avg10 percentage at which
// the host counts as low on memory even when MemAvailable looks healthy.
const DefaultPressureThreshold = 10.0

// PressureLine is one line of a PSI file.
type PressureLine struct {
	Avg10  float64
	Avg60  float64
	Avg300 float64
	Total  uint64 // microseconds stalled
}

// MemoryPressure is the parsed content of /proc/pressure/memory.
type MemoryPressure struct {
	Some PressureLine
	Full PressureLine
}

// ReadMemoryPressure parses <root>/pressure/memory, whose lines look like
// "some avg10=0.00 avg60=0.00 avg300=0.00 total=0". Kernels built without
// PSI have no such file.
func ReadMemoryPressure(root string) (MemoryPressure, error) {
	var mp MemoryPressure
	path := filepath.Join(root, "pressure", "memory")
	lines, err := util.ReadFileLines(path)
	if err != nil {
		return mp, fmt.Errorf("read %s: %w", path, err)
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pl, isFull, err := parsePressureLine(line)
		if err != nil {
			continue
		}
		if isFull {
			mp.Full = pl
		} else {
			mp.Some = pl
		}
	}
	return mp, nil
}

func parsePressureLine(line string) (PressureLine, bool, error) {
	var pl PressureLine
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return pl, false, fmt.Errorf("unexpected PSI line: %s", line)
	}

	isFull := fields[0] == "full"

	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "avg10":
			pl.Avg10 = util.ParseFloat64(v)
		case "avg60":
			pl.Avg60 = util.ParseFloat64(v)
		case "avg300":
			pl.Avg300 = util.ParseFloat64(v)
		case "total":
			pl.Total = util.ParseUint64(v)
		}
	}
	return pl, isFull, nil
}
