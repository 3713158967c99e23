package eviction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/go-go-golems/threadkeeper/pkg/threads"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fixedProbe(percent float64) MemoryProbe {
	return MemoryProbeFunc(func() (float64, error) { return percent, nil })
}

type fixture struct {
	clock    *fakeClock
	store    *persistence.FileStore
	registry *threads.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := persistence.NewFileStore(t.TempDir())
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return &fixture{
		clock:    clock,
		store:    store,
		registry: threads.NewRegistry(threads.WithStore(store), threads.WithClock(clock.Now)),
	}
}

func (f *fixture) thread(t *testing.T, ephemeral bool) string {
	t.Helper()
	id := f.registry.Create(ephemeral)
	require.NoError(t, f.registry.AppendMessage(id, conversation.NewUserMessage("hello")))
	return id
}

func TestRunOnce_EvictsIdleDurableThreads(t *testing.T) {
	f := newFixture(t)
	idle := f.thread(t, false)
	ephemeral := f.thread(t, true)
	f.clock.Advance(31 * time.Minute)
	fresh := f.thread(t, false)

	var evicted []string
	e := NewEvictor(f.registry, &Config{
		IdleTimeout:     30 * time.Minute,
		MemoryThreshold: 90,
		Probe:           fixedProbe(10),
		OnEvict: func(id string, reason Reason) {
			assert.Equal(t, ReasonIdle, reason)
			evicted = append(evicted, id)
		},
	}, WithClock(f.clock.Now))

	res := e.RunOnce(context.Background())
	assert.False(t, res.Pressure)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, []string{idle}, evicted)

	_, err := f.registry.Info(idle)
	assert.True(t, errors.Is(err, threads.ErrUnknownThread))
	_, err = f.registry.Info(ephemeral)
	assert.NoError(t, err)
	_, err = f.registry.Info(fresh)
	assert.NoError(t, err)

	envs, err := f.store.Load(context.Background(), idle)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "hello", envs[0].Message.Content)

	ids, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{idle}, ids)
}

func TestRunOnce_MemoryPressureEvictsAllDurable(t *testing.T) {
	f := newFixture(t)
	var durable []string
	for i := 0; i < 3; i++ {
		durable = append(durable, f.thread(t, false))
	}
	ephemeral := f.thread(t, true)

	e := NewEvictor(f.registry, &Config{
		IdleTimeout:     30 * time.Minute,
		MemoryThreshold: 90,
		Probe:           fixedProbe(95),
		OnEvict: func(_ string, reason Reason) {
			assert.Equal(t, ReasonMemoryPressure, reason)
		},
	}, WithClock(f.clock.Now))

	res := e.RunOnce(context.Background())
	assert.True(t, res.Pressure)
	assert.Equal(t, 3, res.Evicted)
	assert.Equal(t, 1, f.registry.Len())
	_, err := f.registry.Info(ephemeral)
	assert.NoError(t, err)

	for _, id := range durable {
		_, err := f.store.Load(context.Background(), id)
		assert.NoError(t, err)
	}
}

func TestRunOnce_SkipsPinnedThreads(t *testing.T) {
	f := newFixture(t)
	id := f.thread(t, false)
	release, err := f.registry.Pin(id)
	require.NoError(t, err)
	defer release()

	e := NewEvictor(f.registry, &Config{MemoryThreshold: 90, Probe: fixedProbe(99)}, WithClock(f.clock.Now))
	res := e.RunOnce(context.Background())
	assert.Equal(t, 0, res.Evicted)
	assert.Equal(t, 1, f.registry.Len())
}

func TestRunOnce_ProbeErrorsAreNotPressure(t *testing.T) {
	f := newFixture(t)
	f.thread(t, false)

	e := NewEvictor(f.registry, &Config{
		MemoryThreshold: 90,
		Probe:           MemoryProbeFunc(func() (float64, error) { return 0, ErrProbeUnsupported }),
	}, WithClock(f.clock.Now))
	res := e.RunOnce(context.Background())
	assert.False(t, res.Pressure)
	assert.Equal(t, 0, res.Evicted)
}

func TestRunOnce_WithoutStoreReportsFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	reg := threads.NewRegistry(threads.WithClock(clock.Now))
	reg.Create(false)
	clock.Advance(time.Hour)

	var errs []error
	e := NewEvictor(reg, &Config{
		IdleTimeout: time.Minute,
		Probe:       fixedProbe(0),
		OnError:     func(err error) { errs = append(errs, err) },
	}, WithClock(clock.Now))
	res := e.RunOnce(context.Background())
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], threads.ErrNoStore))
	assert.Equal(t, 1, reg.Len())
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	id := f.thread(t, false)

	evicted := make(chan string, 1)
	e := NewEvictor(f.registry, &Config{
		Interval:        10 * time.Millisecond,
		MemoryThreshold: 90,
		Probe:           fixedProbe(99),
		OnEvict:         func(id string, _ Reason) { evicted <- id },
	})

	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	assert.True(t, errors.Is(e.Start(ctx), ErrAlreadyStarted))

	select {
	case got := <-evicted:
		assert.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatal("thread was not evicted")
	}

	require.NoError(t, e.Stop(ctx))
	assert.True(t, errors.Is(e.Stop(ctx), ErrNotStarted))

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Stop(ctx))
}
