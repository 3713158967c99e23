// Package eviction flushes idle threads to their backend and drops them from
// memory, and flushes every durable thread when the host runs low on memory.
package eviction

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/threads"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval        = 60 * time.Second
	DefaultIdleTimeout     = 30 * time.Minute
	DefaultMemoryThreshold = 90.0
)

type Reason string

const (
	ReasonIdle           Reason = "idle"
	ReasonMemoryPressure Reason = "memory_pressure"
)

// Registry is the part of threads.Registry the evictor uses.
type Registry interface {
	List() []threads.ThreadInfo
	Evict(ctx context.Context, id string, idleBefore time.Time) (bool, error)
}

type Config struct {
	// Interval is how often a cycle runs.
	Interval time.Duration
	// IdleTimeout is how long a thread may go unused before it is flushed.
	IdleTimeout time.Duration
	// MemoryThreshold is the used-memory percentage above which every
	// durable thread is flushed. 0 disables the check.
	MemoryThreshold float64
	// Probe defaults to SystemMemory.
	Probe MemoryProbe

	OnEvict func(threadID string, reason Reason)
	OnError func(err error)
}

func DefaultConfig() *Config {
	return &Config{
		Interval:        DefaultInterval,
		IdleTimeout:     DefaultIdleTimeout,
		MemoryThreshold: DefaultMemoryThreshold,
		Probe:           SystemMemory{},
	}
}

// Result describes one cycle.
type Result struct {
	Pressure bool
	Evicted  int
	Failed   int
	Errors   []error
}

type Evictor struct {
	registry Registry
	config   *Config
	now      func() time.Time

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

type Option func(*Evictor)

func WithClock(now func() time.Time) Option {
	return func(e *Evictor) { e.now = now }
}

func NewEvictor(registry Registry, config *Config, opts ...Option) *Evictor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Probe == nil {
		config.Probe = SystemMemory{}
	}

	e := &Evictor{
		registry: registry,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs a cycle immediately and then every Interval until Stop is called
// or ctx is done.
func (e *Evictor) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.run(ctx)

	log.Debug().
		Dur("interval", e.config.Interval).
		Dur("idle_timeout", e.config.IdleTimeout).
		Float64("memory_threshold", e.config.MemoryThreshold).
		Msg("eviction loop started")
	return nil
}

// Stop cancels the loop and waits for the running cycle to finish, or for
// ctx to be done.
func (e *Evictor) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.cancel()
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.started.Store(false)
	return nil
}

func (e *Evictor) run(ctx context.Context) {
	defer close(e.done)

	e.runCycle(ctx)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

func (e *Evictor) runCycle(ctx context.Context) {
	result := e.RunOnce(ctx)
	if e.config.OnError != nil {
		for _, err := range result.Errors {
			e.config.OnError(err)
		}
	}
}

// RunOnce performs a single cycle.
func (e *Evictor) RunOnce(ctx context.Context) *Result {
	result := &Result{Pressure: e.underPressure()}

	reason := ReasonIdle
	cutoff := e.now().Add(-e.config.IdleTimeout)
	if result.Pressure {
		reason = ReasonMemoryPressure
		cutoff = time.Time{}
	}

	for _, info := range e.registry.List() {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			break
		}
		if info.Ephemeral || info.Pinned {
			continue
		}
		if !cutoff.IsZero() && !info.LastAccess.Before(cutoff) {
			continue
		}

		evicted, err := e.registry.Evict(ctx, info.ID, cutoff)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, errors.Wrapf(err, "evict thread %s", info.ID))
			log.Warn().Err(err).Str("thread_id", info.ID).Msg("could not evict thread")
			continue
		}
		if !evicted {
			continue
		}
		result.Evicted++
		if e.config.OnEvict != nil {
			e.config.OnEvict(info.ID, reason)
		}
	}

	if result.Evicted > 0 || result.Failed > 0 {
		log.Info().
			Bool("pressure", result.Pressure).
			Int("evicted", result.Evicted).
			Int("failed", result.Failed).
			Msg("eviction cycle")
	}
	return result
}

func (e *Evictor) underPressure() bool {
	if e.config.MemoryThreshold <= 0 {
		return false
	}
	used, err := e.config.Probe.UsedPercent()
	if err != nil {
		if !errors.Is(err, ErrProbeUnsupported) {
			log.Warn().Err(err).Msg("memory probe failed")
		}
		return false
	}
	if used > e.config.MemoryThreshold {
		log.Warn().Float64("used_percent", used).Float64("threshold", e.config.MemoryThreshold).Msg("memory pressure")
		return true
	}
	return false
}
