package eviction

import "github.com/pkg/errors"

var (
	ErrAlreadyStarted   = errors.New("evictor already started")
	ErrNotStarted       = errors.New("evictor not started")
	ErrProbeUnsupported = errors.New("memory probe not supported on this platform")
)
