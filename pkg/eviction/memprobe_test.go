package eviction

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// warmCacheMeminfo is a 16 GB host right after reading a large file: little
// free memory, most of it page cache that the kernel can reclaim.
const warmCacheMeminfo = `MemTotal:       16000000 kB
MemFree:          360000 kB
MemAvailable:   14400000 kB
Buffers:          120000 kB
Cached:         13800000 kB
SwapCached:            0 kB
Active:          2400000 kB
HugePages_Total:       0
`

func TestParseMeminfoCountsPageCacheAsAvailable(t *testing.T) {
	used, err := ParseMeminfo(strings.NewReader(warmCacheMeminfo))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, used, 0.001)
}

func TestParseMeminfoWithoutMemAvailable(t *testing.T) {
	used, err := ParseMeminfo(strings.NewReader(`MemTotal: 1000 kB
MemFree: 200 kB
Buffers: 100 kB
Cached: 300 kB
`))
	require.NoError(t, err)
	assert.InDelta(t, 40.0, used, 0.001)
}

func TestParseMeminfoUnderRealPressure(t *testing.T) {
	used, err := ParseMeminfo(strings.NewReader(`MemTotal: 1000 kB
MemFree: 10 kB
MemAvailable: 40 kB
`))
	require.NoError(t, err)
	assert.InDelta(t, 96.0, used, 0.001)
}

func TestParseMeminfoRejectsMissingTotals(t *testing.T) {
	_, err := ParseMeminfo(strings.NewReader("MemFree: 10 kB\n"))
	assert.Error(t, err)

	_, err = ParseMeminfo(strings.NewReader("MemTotal: 1000 kB\n"))
	assert.Error(t, err)
}

func TestWarmPageCacheIsNotMemoryPressure(t *testing.T) {
	f := newFixture(t)
	id := f.thread(t, false)

	probe := MemoryProbeFunc(func() (float64, error) {
		return ParseMeminfo(strings.NewReader(warmCacheMeminfo))
	})
	e := NewEvictor(f.registry, &Config{
		IdleTimeout:     30 * time.Minute,
		MemoryThreshold: DefaultMemoryThreshold,
		Probe:           probe,
	}, WithClock(f.clock.Now))

	res := e.RunOnce(context.Background())
	assert.False(t, res.Pressure)
	assert.Equal(t, 0, res.Evicted)
	_, err := f.registry.Info(id)
	assert.NoError(t, err)
}
