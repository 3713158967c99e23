package events

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// TopicToolCalls carries ToolCallStatusEvent payloads.
const TopicToolCalls = "tool-calls"

// ToolCallStatusEvent reports a tool call entering a new status.
type ToolCallStatusEvent struct {
	ThreadID string        `json:"thread_id"`
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Time     time.Time     `json:"time"`
}

// StatusPublisher is what the tool dispatcher needs from an event sink.
type StatusPublisher interface {
	PublishToolCallStatus(ev ToolCallStatusEvent) error
}

// Publisher encodes tool call events as JSON watermill messages.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

var _ StatusPublisher = (*Publisher)(nil)

func NewPublisher(publisher message.Publisher) *Publisher {
	return &Publisher{publisher: publisher, topic: TopicToolCalls}
}

func (p *Publisher) PublishToolCallStatus(ev ToolCallStatusEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode tool call event")
	}
	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("thread_id", ev.ThreadID)
	return p.publisher.Publish(p.topic, msg)
}

// DecodeToolCallStatus parses a message published by Publisher.
func DecodeToolCallStatus(msg *message.Message) (ToolCallStatusEvent, error) {
	var ev ToolCallStatusEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, errors.Wrap(err, "decode tool call event")
	}
	return ev, nil
}
