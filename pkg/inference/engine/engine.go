package engine

import (
	"context"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/pkg/errors"
)

type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
)

var ErrNoChoices = errors.New("completion returned no choices")

// Request is one call to the completion service: the full message list plus
// the tools the model may call.
type Request struct {
	Messages   []conversation.Message
	Tools      []tools.ToolDefinition
	ToolChoice tools.ToolChoice
}

type Response struct {
	Message      conversation.Message
	FinishReason FinishReason
}

// WantsTools reports whether the model asked for tool calls.
func (r *Response) WantsTools() bool {
	return r.FinishReason == FinishReasonToolCalls && len(r.Message.ToolCalls) > 0
}

// Completer sends a message list to a remote model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (*Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
