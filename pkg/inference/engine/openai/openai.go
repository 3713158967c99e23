// Package openai implements engine.Completer on top of the OpenAI chat
// completions API.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/engine"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o"

type Completer struct {
	client *go_openai.Client
	model  string
}

var _ engine.Completer = (*Completer)(nil)

type Option func(*Completer)

func WithModel(model string) Option {
	return func(c *Completer) {
		if model != "" {
			c.model = model
		}
	}
}

// MakeClient builds a client for apiKey. An empty baseURL keeps the default
// endpoint.
func MakeClient(apiKey, baseURL string) *go_openai.Client {
	config := go_openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return go_openai.NewClientWithConfig(config)
}

func NewCompleter(client *go_openai.Client, opts ...Option) *Completer {
	c := &Completer{client: client, model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Completer) Model() string {
	return c.model
}

func (c *Completer) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	oreq, err := MakeCompletionRequest(c.model, req)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", c.model).
		Int("messages", len(oreq.Messages)).
		Int("tools", len(oreq.Tools)).
		Interface("tool_choice", oreq.ToolChoice).
		Msg("sending chat completion request")

	resp, err := c.client.CreateChatCompletion(ctx, *oreq)
	if err != nil {
		return nil, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, engine.ErrNoChoices
	}
	choice := resp.Choices[0]

	log.Debug().
		Str("finish_reason", string(choice.FinishReason)).
		Int("tool_calls", len(choice.Message.ToolCalls)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion received")

	return &engine.Response{
		Message:      messageFromOpenAI(choice.Message),
		FinishReason: engine.FinishReason(choice.FinishReason),
	}, nil
}

// MakeCompletionRequest converts a request to the OpenAI wire format.
func MakeCompletionRequest(model string, req engine.Request) (*go_openai.ChatCompletionRequest, error) {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, messageToOpenAI(m))
	}

	ret := &go_openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}

	if len(req.Tools) > 0 {
		for _, t := range req.Tools {
			ot, err := toolToOpenAI(t)
			if err != nil {
				return nil, err
			}
			ret.Tools = append(ret.Tools, ot)
		}
		switch req.ToolChoice {
		case tools.ToolChoiceNone:
			ret.ToolChoice = "none"
		case tools.ToolChoiceRequired:
			ret.ToolChoice = "required"
		default:
			ret.ToolChoice = "auto"
		}
	}

	return ret, nil
}

func toolToOpenAI(t tools.ToolDefinition) (go_openai.Tool, error) {
	var params json.RawMessage
	if t.Parameters != nil {
		b, err := json.Marshal(t.Parameters)
		if err != nil {
			return go_openai.Tool{}, errors.Wrapf(err, "encode parameters of tool %s", t.Name)
		}
		params = b
	}
	return go_openai.Tool{
		Type: go_openai.ToolTypeFunction,
		Function: go_openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}, nil
}

func messageToOpenAI(m conversation.Message) go_openai.ChatCompletionMessage {
	ret := go_openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}

	if len(m.Images) > 0 {
		parts := []go_openai.ChatMessagePart{{Type: go_openai.ChatMessagePartTypeText, Text: m.Content}}
		for _, img := range m.Images {
			if img == nil {
				continue
			}
			imageURL := img.ImageURL
			if imageURL == "" && len(img.ImageContent) > 0 {
				imageURL = fmt.Sprintf("data:%s;base64,%s", img.MediaType, base64.StdEncoding.EncodeToString(img.ImageContent))
			}
			detail := go_openai.ImageURLDetailAuto
			switch img.Detail {
			case conversation.ImageDetailLow:
				detail = go_openai.ImageURLDetailLow
			case conversation.ImageDetailHigh:
				detail = go_openai.ImageURLDetailHigh
			}
			parts = append(parts, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: detail,
				},
			})
		}
		ret.MultiContent = parts
	} else {
		ret.Content = m.Content
	}

	for _, c := range m.ToolCalls {
		ret.ToolCalls = append(ret.ToolCalls, go_openai.ToolCall{
			ID:   c.ID,
			Type: go_openai.ToolTypeFunction,
			Function: go_openai.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return ret
}

func messageFromOpenAI(m go_openai.ChatCompletionMessage) conversation.Message {
	ret := conversation.Message{
		Role:       conversation.Role(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	if ret.Role == "" {
		ret.Role = conversation.RoleAssistant
	}
	for _, c := range m.ToolCalls {
		ret.ToolCalls = append(ret.ToolCalls, conversation.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return ret
}
