package eviction

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// MemoryProbe reports system memory usage as a percentage in [0, 100].
type MemoryProbe interface {
	UsedPercent() (float64, error)
}

type MemoryProbeFunc func() (float64, error)

func (f MemoryProbeFunc) UsedPercent() (float64, error) {
	return f()
}

// DefaultMeminfoPath is where Linux exposes memory counters.
const DefaultMeminfoPath = "/proc/meminfo"

// SystemMemory probes the memory of the host the process runs on. Reclaimable
// page cache does not count as used.
type SystemMemory struct {
	// MeminfoPath defaults to DefaultMeminfoPath.
	MeminfoPath string
}

var _ MemoryProbe = SystemMemory{}

// ParseMeminfo computes the used memory percentage from /proc/meminfo content
// as (MemTotal - MemAvailable) / MemTotal. Kernels without MemAvailable get
// MemFree + Buffers + Cached as the available figure.
func ParseMeminfo(r io.Reader) (float64, error) {
	fields := map[string]uint64{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		// "MemAvailable:   5612340 kB"
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		parts := strings.Fields(rest)
		if len(parts) == 0 {
			continue
		}
		v, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}
		fields[name] = v
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "read meminfo")
	}

	total, ok := fields["MemTotal"]
	if !ok || total == 0 {
		return 0, errors.New("meminfo has no MemTotal")
	}
	available, ok := fields["MemAvailable"]
	if !ok {
		free, hasFree := fields["MemFree"]
		if !hasFree {
			return 0, errors.New("meminfo has neither MemAvailable nor MemFree")
		}
		available = free + fields["Buffers"] + fields["Cached"]
	}
	if available > total {
		available = total
	}
	return float64(total-available) / float64(total) * 100, nil
}
