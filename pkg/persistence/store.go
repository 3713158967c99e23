// Package persistence holds the durable copies of conversation threads.
//
// A Store keeps one serialized message list per thread identifier and knows
// nothing about in-memory state. Two implementations exist: FileStore writes
// one JSON file per thread, SQLStore keeps one row per thread in a relational
// table. Callers pick one at construction time with Open.
package persistence

import (
	"context"
	"strings"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("no stored thread")
	ErrInvalidID = errors.New("invalid thread id")
	ErrNoBackend = errors.New("no persistence backend configured")
)

// Store is the capability set the registry and eviction loop depend on.
type Store interface {
	// Load returns the stored message list, ErrNotFound if there is none.
	Load(ctx context.Context, threadID string) ([]conversation.Envelope, error)
	// Save replaces the stored message list.
	Save(ctx context.Context, threadID string, envs []conversation.Envelope) error
	// Delete removes the stored message list. Deleting a missing thread is not an error.
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// Lister is implemented by stores that can enumerate stored thread ids.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

type Config struct {
	StorageDir  string
	DatabaseURL string
}

// Open builds the store selected by cfg. A database URL takes precedence over a
// storage directory. ErrNoBackend is returned when neither is set.
func Open(cfg Config) (Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		return OpenSQLStore(cfg.DatabaseURL)
	case cfg.StorageDir != "":
		return NewFileStore(cfg.StorageDir)
	default:
		return nil, ErrNoBackend
	}
}

// Describe returns a human readable location for a thread in store, used by the
// REPL after saving.
func Describe(store Store, threadID string) string {
	switch s := store.(type) {
	case *FileStore:
		return s.path(threadID)
	case *SQLStore:
		return s.driver + " table threads, id " + threadID
	default:
		return threadID
	}
}

func validateID(threadID string) error {
	if threadID == "" || strings.ContainsAny(threadID, `/\`) || strings.HasPrefix(threadID, ".") {
		return errors.Wrapf(ErrInvalidID, "%q", threadID)
	}
	return nil
}
