// Package events carries tool call status changes from the dispatcher to
// whoever watches them (logging, progress displays) over an in-process
// watermill pubsub.
package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

// WithVerbose logs watermill internals through the global zerolog logger.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermill(log.Logger)
		}
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

// StatusPublisher returns a publisher bound to this router's pubsub.
func (e *EventRouter) StatusPublisher() *Publisher {
	return NewPublisher(e.Publisher)
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddToolCallHandler subscribes f to decoded tool call status events. Payloads
// that fail to decode are logged and acknowledged.
func (e *EventRouter) AddToolCallHandler(name string, f func(ev ToolCallStatusEvent) error) {
	e.AddHandler(name, TopicToolCalls, func(msg *message.Message) error {
		ev, err := DecodeToolCallStatus(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed tool call event")
			return nil
		}
		return f(ev)
	})
}

// LogToolCalls is a handler that writes every status change to the log.
func LogToolCalls(ev ToolCallStatusEvent) error {
	l := log.Debug()
	if ev.Status == "failed" {
		l = log.Warn()
	}
	l.Str("thread_id", ev.ThreadID).
		Str("call_id", ev.CallID).
		Str("tool", ev.Name).
		Str("status", ev.Status).
		Str("error", ev.Error).
		Dur("duration", ev.Duration).
		Msg("tool call status")
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	return nil
}
