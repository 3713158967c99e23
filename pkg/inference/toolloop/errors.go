package toolloop

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrToolCallMismatch = errors.New("tool call mismatch")
	ErrMaxIterations    = errors.New("maximum iterations reached")
)

// ToolCallMismatchError reports requested call ids that got no result in the
// thread. Err is the append failure that caused it, if any.
type ToolCallMismatchError struct {
	ThreadID string
	Missing  []string
	Err      error
}

func (e *ToolCallMismatchError) Error() string {
	msg := fmt.Sprintf("thread %s: no result for tool calls %s", e.ThreadID, strings.Join(e.Missing, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolCallMismatchError) Unwrap() error {
	return e.Err
}

func (e *ToolCallMismatchError) Is(target error) bool {
	return target == ErrToolCallMismatch
}
