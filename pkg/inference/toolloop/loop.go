// Package toolloop drives one conversational turn: append the user message,
// trim the window, call the model, dispatch requested tools and call the
// model again until it answers without tool calls.
package toolloop

import (
	"context"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/engine"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateAwaitingUserInput  State = "awaiting_user_input"
	StateTrimming           State = "trimming"
	StateCallingModel       State = "calling_model"
	StateToolCallsRequested State = "tool_calls_requested"
	StateDispatching        State = "dispatching"
	StateFinalResponse      State = "final_response"
)

// StateHook observes every state transition of a turn.
type StateHook func(ctx context.Context, threadID string, state State)

// Threads is the part of threads.Registry a turn uses.
type Threads interface {
	tools.Appender
	Ensure(ctx context.Context, id string) error
	Pin(id string) (func(), error)
	AppendMessage(id string, msg conversation.Message) error
	Trim(id string, maxChars int) (conversation.WindowStats, error)
	Messages(id string) ([]conversation.Envelope, error)
}

type Loop struct {
	completer  engine.Completer
	threads    Threads
	registry   tools.ToolRegistry
	dispatcher *tools.Dispatcher
	loopCfg    LoopConfig
	toolCfg    tools.ToolConfig
	dispOpts   []tools.DispatcherOption
	hook       StateHook
}

type Option func(*Loop)

func WithToolRegistry(reg tools.ToolRegistry) Option {
	return func(l *Loop) { l.registry = reg }
}

func WithLoopConfig(cfg LoopConfig) Option {
	return func(l *Loop) { l.loopCfg = cfg }
}

func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(l *Loop) { l.toolCfg = cfg }
}

// WithDispatcherOptions passes extra options (progress display, event
// publisher) to the dispatcher the loop builds.
func WithDispatcherOptions(opts ...tools.DispatcherOption) Option {
	return func(l *Loop) { l.dispOpts = append(l.dispOpts, opts...) }
}

// WithDispatcher replaces the dispatcher the loop would build.
func WithDispatcher(d *tools.Dispatcher) Option {
	return func(l *Loop) { l.dispatcher = d }
}

func WithStateHook(h StateHook) Option {
	return func(l *Loop) { l.hook = h }
}

func New(completer engine.Completer, threads Threads, opts ...Option) *Loop {
	l := &Loop{
		completer: completer,
		threads:   threads,
		loopCfg:   DefaultLoopConfig(),
		toolCfg:   tools.DefaultToolConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.registry == nil {
		l.registry = tools.NewInMemoryToolRegistry()
	}
	if l.dispatcher == nil {
		dispOpts := append([]tools.DispatcherOption{tools.WithToolConfig(l.toolCfg)}, l.dispOpts...)
		l.dispatcher = tools.NewDispatcher(l.registry, threads, dispOpts...)
	}
	return l
}

func (l *Loop) enter(ctx context.Context, threadID string, s State) {
	log.Debug().Str("thread_id", threadID).Str("state", string(s)).Msg("turn state")
	if l.hook != nil {
		l.hook(ctx, threadID, s)
	}
}

// Run appends user to the thread and drives the turn to a final response,
// which is returned after being appended. The thread is pinned for the
// duration of the turn so the eviction loop leaves it alone.
func (l *Loop) Run(ctx context.Context, threadID string, user conversation.Message) (*conversation.Message, error) {
	if l.completer == nil {
		return nil, errors.New("tool loop completer is nil")
	}
	if l.threads == nil {
		return nil, errors.New("tool loop threads are nil")
	}

	l.enter(ctx, threadID, StateAwaitingUserInput)
	if err := l.threads.Ensure(ctx, threadID); err != nil {
		return nil, err
	}
	release, err := l.threads.Pin(threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := l.threads.AppendMessage(threadID, user); err != nil {
		return nil, err
	}

	l.enter(ctx, threadID, StateTrimming)
	stats, err := l.threads.Trim(threadID, l.loopCfg.ContextBudget)
	if err != nil {
		return nil, err
	}
	if stats.OverBudgetNewest {
		log.Warn().
			Str("thread_id", threadID).
			Int("total", stats.Total).
			Int("budget", stats.Budget).
			Msg("newest message alone exceeds the context budget")
	}

	toolDefs := l.toolCfg.FilterTools(l.registry.ListTools())
	toolChoice := l.toolCfg.ToolChoice
	if toolChoice == "" {
		toolChoice = tools.ToolChoiceAuto
	}

	maxIterations := l.loopCfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = tools.DefaultMaxIterations
	}

	for i := 0; i < maxIterations; i++ {
		l.enter(ctx, threadID, StateCallingModel)
		envs, err := l.threads.Messages(threadID)
		if err != nil {
			return nil, err
		}

		resp, err := l.completer.Complete(ctx, engine.Request{
			Messages:   l.requestMessages(envs),
			Tools:      toolDefs,
			ToolChoice: toolChoice,
		})
		if err != nil {
			return nil, errors.Wrap(err, "call model")
		}
		if err := l.threads.AppendMessage(threadID, resp.Message); err != nil {
			return nil, err
		}

		if !resp.WantsTools() {
			l.enter(ctx, threadID, StateFinalResponse)
			msg := resp.Message
			return &msg, nil
		}

		l.enter(ctx, threadID, StateToolCallsRequested)
		log.Debug().
			Str("thread_id", threadID).
			Int("iteration", i+1).
			Int("tool_calls", len(resp.Message.ToolCalls)).
			Msg("model requested tools")

		l.enter(ctx, threadID, StateDispatching)
		res, err := l.dispatcher.Dispatch(ctx, threadID, resp.Message.ToolCalls)
		if res != nil && len(res.Missing) > 0 {
			return nil, &ToolCallMismatchError{ThreadID: threadID, Missing: res.Missing, Err: err}
		}
		if err != nil {
			return nil, err
		}
	}

	log.Warn().Str("thread_id", threadID).Int("max_iterations", maxIterations).Msg("maximum iterations reached")
	return nil, errors.Wrapf(ErrMaxIterations, "thread %s: %d model calls", threadID, maxIterations)
}

func (l *Loop) requestMessages(envs []conversation.Envelope) []conversation.Message {
	msgs := make([]conversation.Message, 0, len(envs)+1)
	if l.loopCfg.SystemPrompt != "" {
		msgs = append(msgs, conversation.Message{Role: conversation.RoleSystem, Content: l.loopCfg.SystemPrompt})
	}
	// the service rejects tool results whose request is not in the list and
	// tool calls that have no result. Trimming can cause the first, a failed
	// append during dispatch the second.
	answered := map[string]bool{}
	for _, e := range envs {
		if e.Message.Role == conversation.RoleTool {
			answered[e.Message.ToolCallID] = true
		}
	}
	requested := map[string]bool{}
	for _, e := range envs {
		m := e.Message
		if len(m.ToolCalls) > 0 {
			var kept []conversation.ToolCall
			for _, c := range m.ToolCalls {
				if !answered[c.ID] {
					log.Debug().Str("call_id", c.ID).Str("tool", c.Name).Msg("skipping unanswered tool call")
					continue
				}
				requested[c.ID] = true
				kept = append(kept, c)
			}
			if len(kept) == 0 && !m.HasText() {
				continue
			}
			m.ToolCalls = kept
		}
		if m.Role == conversation.RoleTool && !requested[m.ToolCallID] {
			log.Debug().Str("call_id", m.ToolCallID).Msg("skipping orphaned tool result")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}
