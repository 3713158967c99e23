package threads

import (
	"fmt"

	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/pkg/errors"
)

var (
	// ErrUnknownThread is returned for ids that are not resident in memory.
	ErrUnknownThread = errors.New("unknown thread")
	// ErrNotFound is returned when the backend has no record for a load.
	ErrNotFound = persistence.ErrNotFound
	// ErrEphemeral is returned when a backend operation targets an ephemeral
	// thread, or when a load is attempted in temporary mode.
	ErrEphemeral = errors.New("thread is ephemeral")
	// ErrPersistence marks backend I/O failures. Match with errors.Is.
	ErrPersistence = errors.New("persistence error")
	// ErrNoStore is returned by save/load when no backend is configured.
	ErrNoStore = persistence.ErrNoBackend
)

// PersistenceError wraps a backend failure for one thread operation.
type PersistenceError struct {
	Op       string
	ThreadID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
