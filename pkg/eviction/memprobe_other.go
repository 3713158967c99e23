//go:build !linux

package eviction

func (SystemMemory) UsedPercent() (float64, error) {
	return 0, ErrProbeUnsupported
}
