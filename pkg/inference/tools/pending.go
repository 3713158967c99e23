package tools

import (
	"sync"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PendingToolCall is one requested call of a batch and its current status.
type PendingToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Batch holds the calls requested by one model response. Status changes made
// by the dispatcher can be observed concurrently through Snapshot.
type Batch struct {
	mu    sync.RWMutex
	calls []PendingToolCall
	index map[string]int
}

// NewBatch creates a batch with every call pending. Repeated call ids are
// dropped, only the first occurrence is kept.
func NewBatch(calls []conversation.ToolCall) *Batch {
	b := &Batch{
		calls: make([]PendingToolCall, 0, len(calls)),
		index: make(map[string]int, len(calls)),
	}
	for _, c := range calls {
		if _, ok := b.index[c.ID]; ok {
			log.Warn().Str("call_id", c.ID).Str("tool", c.Name).Msg("dropping repeated tool call id")
			continue
		}
		b.index[c.ID] = len(b.calls)
		b.calls = append(b.calls, PendingToolCall{
			ID:        c.ID,
			Name:      c.Name,
			Arguments: c.Arguments,
			Status:    StatusPending,
		})
	}
	return b
}

func (b *Batch) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.calls)
}

// Snapshot returns a copy of the calls in request order.
func (b *Batch) Snapshot() []PendingToolCall {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ret := make([]PendingToolCall, len(b.calls))
	copy(ret, b.calls)
	return ret
}

func (b *Batch) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, len(b.calls))
	for i, c := range b.calls {
		ids[i] = c.ID
	}
	return ids
}

func (b *Batch) Status(id string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.index[id]
	if !ok {
		return "", false
	}
	return b.calls[i].Status, true
}

// Pending counts calls that have not reached a terminal status.
func (b *Batch) Pending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.calls {
		if !c.Status.Terminal() {
			n++
		}
	}
	return n
}

func (b *Batch) Done() bool {
	return b.Pending() == 0
}

// finish moves a pending call to a terminal status. It reports false when the
// call is unknown or already terminal.
func (b *Batch) finish(id string, status Status, errMsg string, d time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.index[id]
	if !ok || b.calls[i].Status.Terminal() {
		return false
	}
	b.calls[i].Status = status
	b.calls[i].Error = errMsg
	b.calls[i].Duration = d
	return true
}
