//go:build linux

package eviction

import (
	"os"

	"github.com/pkg/errors"
)

func (m SystemMemory) UsedPercent() (float64, error) {
	path := m.MeminfoPath
	if path == "" {
		path = DefaultMeminfoPath
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open meminfo")
	}
	defer func() {
		_ = f.Close()
	}()
	return ParseMeminfo(f)
}
