//go:build linux

package eviction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemMemoryReadsMeminfoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(warmCacheMeminfo), 0o644))

	used, err := SystemMemory{MeminfoPath: path}.UsedPercent()
	require.NoError(t, err)
	assert.InDelta(t, 10.0, used, 0.001)
}

func TestSystemMemoryMissingFile(t *testing.T) {
	_, err := SystemMemory{MeminfoPath: filepath.Join(t.TempDir(), "nope")}.UsedPercent()
	assert.Error(t, err)
}
