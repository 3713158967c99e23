// Package threads holds the in-memory conversation threads of one process.
//
// The Registry owns every resident thread. All mutation goes through it:
// appends, trims, saves, deletes and evictions lock the thread they touch, so
// an in-flight turn, concurrent tool results and the eviction loop never
// interleave on the same message list. Durable threads are written through an
// injected persistence.Store; ephemeral threads never reach it.
package threads

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type thread struct {
	mu         sync.Mutex
	id         string
	envs       []conversation.Envelope
	ephemeral  bool
	lastAccess time.Time
	pins       int
	// dropped is set once the thread left the map; holders of a stale
	// pointer must treat it as unknown.
	dropped bool
}

// ThreadInfo is a point-in-time description of a resident thread.
type ThreadInfo struct {
	ID         string    `json:"id" yaml:"id"`
	Ephemeral  bool      `json:"ephemeral" yaml:"ephemeral"`
	Length     int       `json:"length" yaml:"length"`
	Chars      int       `json:"chars" yaml:"chars"`
	LastAccess time.Time `json:"last_access" yaml:"last_access"`
	Pinned     bool      `json:"pinned" yaml:"pinned"`
}

type Registry struct {
	mu        sync.RWMutex
	threads   map[string]*thread
	store     persistence.Store
	temporary bool
	now       func() time.Time
}

type Option func(*Registry)

// WithStore sets the backend durable threads are saved to.
func WithStore(store persistence.Store) Option {
	return func(r *Registry) { r.store = store }
}

// WithTemporary forces every created thread to be ephemeral and refuses loads.
func WithTemporary(temporary bool) Option {
	return func(r *Registry) { r.temporary = temporary }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		threads: make(map[string]*thread),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Registry) Store() persistence.Store {
	return r.store
}

func (r *Registry) Temporary() bool {
	return r.temporary
}

// Create allocates a new thread and returns its id.
func (r *Registry) Create(ephemeral bool) string {
	id := uuid.NewString()
	t := &thread{
		id:         id,
		ephemeral:  ephemeral || r.temporary,
		lastAccess: r.now(),
	}

	r.mu.Lock()
	r.threads[id] = t
	r.mu.Unlock()

	log.Debug().Str("thread_id", id).Bool("ephemeral", t.ephemeral).Msg("created thread")
	return id
}

func (r *Registry) get(id string) (*thread, error) {
	r.mu.RLock()
	t, ok := r.threads[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownThread, "thread %s", id)
	}
	return t, nil
}

// lock returns the resident thread with its mutex held.
func (r *Registry) lock(id string) (*thread, error) {
	t, err := r.get(id)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.dropped {
		t.mu.Unlock()
		return nil, errors.Wrapf(ErrUnknownThread, "thread %s", id)
	}
	return t, nil
}

// remove drops t from the map. Callers hold t.mu.
func (r *Registry) remove(t *thread) {
	t.dropped = true
	r.mu.Lock()
	if cur, ok := r.threads[t.id]; ok && cur == t {
		delete(r.threads, t.id)
	}
	r.mu.Unlock()
}

// Append adds env to the end of the thread. An envelope equal to the last one
// appended is skipped, which makes a retried append a no-op.
func (r *Registry) Append(id string, env conversation.Envelope) error {
	t, err := r.lock(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	now := r.now()
	t.lastAccess = now
	if n := len(t.envs); n > 0 && t.envs[n-1].Equal(env) {
		log.Debug().Str("thread_id", id).Msg("skipping duplicate append")
		return nil
	}
	if env.AppendedAt.IsZero() {
		env.AppendedAt = now
	}
	t.envs = append(t.envs, env)
	return nil
}

// AppendMessage wraps msg in an envelope and appends it.
func (r *Registry) AppendMessage(id string, msg conversation.Message) error {
	return r.Append(id, conversation.NewEnvelope(msg))
}

// Messages returns a deep copy of the thread's envelopes.
func (r *Registry) Messages(id string) ([]conversation.Envelope, error) {
	t, err := r.lock(id)
	if err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	if len(t.envs) == 0 {
		return []conversation.Envelope{}, nil
	}
	return clone.Clone(t.envs).([]conversation.Envelope), nil
}

// Trim enforces the character budget on the thread, dropping from the head.
func (r *Registry) Trim(id string, maxChars int) (conversation.WindowStats, error) {
	t, err := r.lock(id)
	if err != nil {
		return conversation.WindowStats{}, err
	}
	defer t.mu.Unlock()

	kept, stats := conversation.Trim(t.envs, maxChars)
	if stats.Removed > 0 {
		t.envs = append([]conversation.Envelope(nil), kept...)
	}
	return stats, nil
}

// Pin marks the thread as in use; pinned threads are never evicted. The
// returned release func may be called more than once.
func (r *Registry) Pin(id string) (func(), error) {
	t, err := r.lock(id)
	if err != nil {
		return nil, err
	}
	t.pins++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.pins--
			t.lastAccess = r.now()
			t.mu.Unlock()
		})
	}, nil
}

// Load makes a stored thread resident. Loading a resident durable thread only
// refreshes its access time.
func (r *Registry) Load(ctx context.Context, id string) error {
	if r.temporary {
		return errors.Wrapf(ErrEphemeral, "thread %s: temporary mode does not load stored threads", id)
	}

	if t, err := r.lock(id); err == nil {
		defer t.mu.Unlock()
		if t.ephemeral {
			return errors.Wrapf(ErrEphemeral, "thread %s", id)
		}
		t.lastAccess = r.now()
		return nil
	}

	if r.store == nil {
		return errors.Wrapf(ErrNoStore, "load thread %s", id)
	}

	envs, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		return &PersistenceError{Op: "load", ThreadID: id, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; ok {
		// loaded concurrently, keep the resident copy
		return nil
	}
	r.threads[id] = &thread{
		id:         id,
		envs:       envs,
		lastAccess: r.now(),
	}
	log.Debug().Str("thread_id", id).Int("messages", len(envs)).Msg("loaded thread")
	return nil
}

// Ensure loads the thread if it is not resident. Without a backend to
// recover it from, a missing thread is ErrUnknownThread.
func (r *Registry) Ensure(ctx context.Context, id string) error {
	if _, err := r.get(id); err == nil {
		return nil
	}
	if r.store == nil || r.temporary {
		return errors.Wrapf(ErrUnknownThread, "thread %s", id)
	}
	return r.Load(ctx, id)
}

// Save writes the thread through the store. Failures are returned as
// *PersistenceError and not retried.
func (r *Registry) Save(ctx context.Context, id string) error {
	t, err := r.lock(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()
	return r.saveLocked(ctx, t)
}

func (r *Registry) saveLocked(ctx context.Context, t *thread) error {
	if t.ephemeral {
		return errors.Wrapf(ErrEphemeral, "save thread %s", t.id)
	}
	if r.store == nil {
		return errors.Wrapf(ErrNoStore, "save thread %s", t.id)
	}
	if err := r.store.Save(ctx, t.id, t.envs); err != nil {
		return &PersistenceError{Op: "save", ThreadID: t.id, Err: err}
	}
	return nil
}

// Delete drops the thread from memory and, for durable threads, from the
// store. If the backend delete fails the thread stays resident.
func (r *Registry) Delete(ctx context.Context, id string) error {
	t, err := r.lock(id)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()

	if !t.ephemeral && r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			return &PersistenceError{Op: "delete", ThreadID: id, Err: err}
		}
	}
	r.remove(t)
	log.Debug().Str("thread_id", id).Bool("ephemeral", t.ephemeral).Msg("deleted thread")
	return nil
}

// DeleteStored removes the backend copy of a thread without touching memory.
func (r *Registry) DeleteStored(ctx context.Context, id string) error {
	if t, err := r.get(id); err == nil {
		t.mu.Lock()
		ephemeral := t.ephemeral
		t.mu.Unlock()
		if ephemeral {
			return errors.Wrapf(ErrEphemeral, "delete stored thread %s", id)
		}
	}
	if r.store == nil {
		return errors.Wrapf(ErrNoStore, "delete stored thread %s", id)
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return &PersistenceError{Op: "delete", ThreadID: id, Err: err}
	}
	return nil
}

// Evict saves and drops a durable, unpinned thread. If idleBefore is non-zero
// the thread is only evicted when it was last accessed before that time. A
// failed save leaves the thread resident.
func (r *Registry) Evict(ctx context.Context, id string, idleBefore time.Time) (bool, error) {
	t, err := r.lock(id)
	if err != nil {
		if errors.Is(err, ErrUnknownThread) {
			return false, nil
		}
		return false, err
	}
	defer t.mu.Unlock()

	if t.ephemeral || t.pins > 0 {
		return false, nil
	}
	if !idleBefore.IsZero() && !t.lastAccess.Before(idleBefore) {
		return false, nil
	}
	if err := r.saveLocked(ctx, t); err != nil {
		return false, err
	}
	r.remove(t)
	log.Debug().Str("thread_id", id).Int("messages", len(t.envs)).Msg("evicted thread")
	return true, nil
}

func (r *Registry) Info(id string) (ThreadInfo, error) {
	t, err := r.lock(id)
	if err != nil {
		return ThreadInfo{}, err
	}
	defer t.mu.Unlock()
	return t.info(), nil
}

func (t *thread) info() ThreadInfo {
	return ThreadInfo{
		ID:         t.id,
		Ephemeral:  t.ephemeral,
		Length:     len(t.envs),
		Chars:      conversation.CountChars(t.envs),
		LastAccess: t.lastAccess,
		Pinned:     t.pins > 0,
	}
}

// List describes all resident threads, oldest access first.
func (r *Registry) List() []ThreadInfo {
	r.mu.RLock()
	resident := make([]*thread, 0, len(r.threads))
	for _, t := range r.threads {
		resident = append(resident, t)
	}
	r.mu.RUnlock()

	infos := make([]ThreadInfo, 0, len(resident))
	for _, t := range resident {
		t.mu.Lock()
		if !t.dropped {
			infos = append(infos, t.info())
		}
		t.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].LastAccess.Equal(infos[j].LastAccess) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].LastAccess.Before(infos[j].LastAccess)
	})
	return infos
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}
