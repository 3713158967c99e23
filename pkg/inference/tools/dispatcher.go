package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrToolNotPermitted = errors.New("tool not permitted")
	ErrToolTimeout      = errors.New("tool execution timed out")
	ErrToolPanic        = errors.New("tool panicked")
)

// Appender receives the result envelopes of a batch, one call at a time.
// threads.Registry satisfies it.
type Appender interface {
	Append(threadID string, env conversation.Envelope) error
}

// ToolResult is the outcome of one call, as appended to the thread.
type ToolResult struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Content  string        `json:"content"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DispatchResult lists results in append order. Missing holds the ids of
// requested calls for which no result was appended.
type DispatchResult struct {
	Results []ToolResult
	Missing []string
}

// Dispatcher executes the tool calls of one model response concurrently and
// appends their results through a single collector goroutine.
type Dispatcher struct {
	registry  ToolRegistry
	appender  Appender
	config    ToolConfig
	progress  func(*Batch)
	publisher events.StatusPublisher
}

type DispatcherOption func(*Dispatcher)

func WithToolConfig(config ToolConfig) DispatcherOption {
	return func(d *Dispatcher) { d.config = config }
}

// WithProgress hands every new batch to fn before any call runs. fn must not
// block; it typically starts a display reading Batch.Snapshot.
func WithProgress(fn func(*Batch)) DispatcherOption {
	return func(d *Dispatcher) { d.progress = fn }
}

func WithStatusPublisher(p events.StatusPublisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

func NewDispatcher(registry ToolRegistry, appender Appender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		appender: appender,
		config:   DefaultToolConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Config() ToolConfig {
	return d.config
}

type collected struct {
	results  []ToolResult
	appended map[string]bool
	err      error
}

// Dispatch runs every call and returns once all of them reached a terminal
// status and every result was appended to the thread. The returned error is
// the first append failure; tool failures are reported as results.
func (d *Dispatcher) Dispatch(ctx context.Context, threadID string, calls []conversation.ToolCall) (*DispatchResult, error) {
	batch := NewBatch(calls)
	if d.progress != nil {
		d.progress(batch)
	}
	pending := batch.Snapshot()
	for _, c := range pending {
		d.publish(threadID, c, StatusPending, "", 0)
	}

	results := make(chan ToolResult, len(pending))
	done := make(chan collected, 1)
	go d.collect(threadID, results, done)

	eg := &errgroup.Group{}
	if d.config.MaxParallelTools > 0 {
		eg.SetLimit(d.config.MaxParallelTools)
	}
	for _, call := range pending {
		call := call
		eg.Go(func() error {
			results <- d.run(ctx, threadID, call, batch)
			return nil
		})
	}
	_ = eg.Wait()
	close(results)
	c := <-done

	ret := &DispatchResult{Results: c.results}
	for _, id := range batch.IDs() {
		if !c.appended[id] {
			ret.Missing = append(ret.Missing, id)
		}
	}
	log.Debug().
		Str("thread_id", threadID).
		Int("calls", len(pending)).
		Int("appended", len(c.appended)).
		Int("missing", len(ret.Missing)).
		Msg("dispatched tool calls")
	return ret, c.err
}

func (d *Dispatcher) collect(threadID string, results <-chan ToolResult, done chan<- collected) {
	c := collected{appended: make(map[string]bool)}
	for r := range results {
		c.results = append(c.results, r)
		if c.err != nil {
			continue
		}
		env := conversation.NewEnvelope(conversation.NewToolResultMessage(r.ID, r.Name, r.Content))
		if err := d.appender.Append(threadID, env); err != nil {
			c.err = errors.Wrapf(err, "append result of tool call %s", r.ID)
			continue
		}
		c.appended[r.ID] = true
	}
	done <- c
}

func (d *Dispatcher) run(ctx context.Context, threadID string, call PendingToolCall, batch *Batch) ToolResult {
	start := time.Now()
	finish := func(status Status, content string, err error) ToolResult {
		dur := time.Since(start)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		batch.finish(call.ID, status, errMsg, dur)
		d.publish(threadID, call, status, errMsg, dur)
		return ToolResult{
			ID:       call.ID,
			Name:     call.Name,
			Content:  content,
			Status:   status,
			Error:    errMsg,
			Duration: dur,
		}
	}

	if !d.config.IsToolAllowed(call.Name) {
		log.Warn().Str("thread_id", threadID).Str("call_id", call.ID).Str("tool", call.Name).Msg("tool not permitted")
		return finish(StatusFailed, encodeContent(fmt.Sprintf("Tool %s is not permitted.", call.Name)),
			errors.Wrap(ErrToolNotPermitted, call.Name))
	}

	def, err := d.registry.GetTool(call.Name)
	if err != nil {
		log.Warn().Str("thread_id", threadID).Str("call_id", call.ID).Str("tool", call.Name).Msg("tool not implemented")
		return finish(StatusFailed, encodeContent(fmt.Sprintf("Tool %s not implemented.", call.Name)), err)
	}

	args := []byte(call.Arguments)
	if strings.TrimSpace(call.Arguments) == "" {
		args = []byte("{}")
	}
	if !json.Valid(args) {
		err := errors.Wrapf(ErrArgumentParse, "%s: arguments are not valid JSON", call.Name)
		log.Error().Err(err).Str("thread_id", threadID).Str("call_id", call.ID).Str("arguments", call.Arguments).Msg("could not parse tool arguments")
		return finish(StatusFailed, encodeError(err), err)
	}
	if err := def.ValidateArguments(args); err != nil {
		log.Error().Err(err).Str("thread_id", threadID).Str("call_id", call.ID).Str("arguments", call.Arguments).Msg("tool arguments do not match schema")
		return finish(StatusFailed, encodeError(err), err)
	}

	out, err := d.execute(ctx, def, args)
	if err != nil {
		if isExecutionFailure(err) {
			log.Warn().Err(err).Str("thread_id", threadID).Str("call_id", call.ID).Str("tool", call.Name).Msg("tool call failed")
			return finish(StatusFailed, encodeError(err), err)
		}
		// the tool ran and reported an error; the model gets it as the result
		log.Debug().Err(err).Str("call_id", call.ID).Str("tool", call.Name).Msg("tool returned error")
		return finish(StatusCompleted, encodeError(err), nil)
	}

	content, err := encodeResult(out)
	if err != nil {
		return finish(StatusFailed, encodeError(err), err)
	}
	return finish(StatusCompleted, content, nil)
}

type execOutcome struct {
	out interface{}
	err error
}

// execute runs the tool under the configured timeout. A tool that ignores
// cancellation is abandoned once the deadline passes.
func (d *Dispatcher) execute(ctx context.Context, def *ToolDefinition, args []byte) (interface{}, error) {
	callCtx := ctx
	cancel := func() {}
	if d.config.ExecutionTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.config.ExecutionTimeout)
	}
	defer cancel()

	ch := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("tool", def.Name).Bytes("stack", debug.Stack()).Msg("tool panicked")
				ch <- execOutcome{err: errors.Wrapf(ErrToolPanic, "%s: %v", def.Name, r)}
			}
		}()
		out, err := def.Function.Execute(callCtx, args)
		ch <- execOutcome{out: out, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil && callCtx.Err() != nil {
			return nil, contextFailure(def.Name, callCtx.Err())
		}
		return o.out, o.err
	case <-callCtx.Done():
		return nil, contextFailure(def.Name, callCtx.Err())
	}
}

func contextFailure(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(ErrToolTimeout, "%s", name)
	}
	return errors.Wrapf(err, "%s", name)
}

func isExecutionFailure(err error) bool {
	return errors.Is(err, ErrArgumentParse) ||
		errors.Is(err, ErrToolTimeout) ||
		errors.Is(err, ErrToolPanic) ||
		errors.Is(err, context.Canceled)
}

func (d *Dispatcher) publish(threadID string, call PendingToolCall, status Status, errMsg string, dur time.Duration) {
	if d.publisher == nil {
		return
	}
	err := d.publisher.PublishToolCallStatus(events.ToolCallStatusEvent{
		ThreadID: threadID,
		CallID:   call.ID,
		Name:     call.Name,
		Status:   string(status),
		Error:    errMsg,
		Duration: dur,
	})
	if err != nil {
		log.Warn().Err(err).Str("call_id", call.ID).Msg("could not publish tool call status")
	}
}

func encodeContent(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func encodeError(err error) string {
	return encodeContent("Error: " + err.Error())
}

// encodeResult serializes a tool's return value. Strings are JSON-encoded like
// any other value.
func encodeResult(out interface{}) (string, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, "encode tool result")
	}
	return string(b), nil
}
