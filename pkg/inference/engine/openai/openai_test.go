package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/engine"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherInput struct {
	Location string `json:"location"`
}

func TestMakeCompletionRequest(t *testing.T) {
	def, err := tools.NewToolFromFunc("get_current_weather", "weather", func(in weatherInput) (string, error) {
		return "", nil
	})
	require.NoError(t, err)

	req, err := MakeCompletionRequest("gpt-4o", engine.Request{
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: "be brief"},
			conversation.NewUserMessage("weather?"),
			conversation.NewAssistantMessage("", conversation.ToolCall{ID: "c1", Name: "get_current_weather", Arguments: `{"location":"Paris"}`}),
			conversation.NewToolResultMessage("c1", "get_current_weather", `"sunny"`),
		},
		Tools:      []tools.ToolDefinition{*def},
		ToolChoice: tools.ToolChoiceRequired,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	require.Len(t, req.Messages[2].ToolCalls, 1)
	assert.Equal(t, "c1", req.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, "get_current_weather", req.Messages[2].ToolCalls[0].Function.Name)
	assert.Equal(t, "tool", req.Messages[3].Role)
	assert.Equal(t, "c1", req.Messages[3].ToolCallID)
	assert.Equal(t, "get_current_weather", req.Messages[3].Name)

	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_current_weather", req.Tools[0].Function.Name)
	assert.Equal(t, "required", req.ToolChoice)
}

func TestMakeCompletionRequest_NoToolsNoChoice(t *testing.T) {
	req, err := MakeCompletionRequest("gpt-4o", engine.Request{
		Messages:   []conversation.Message{conversation.NewUserMessage("hi")},
		ToolChoice: tools.ToolChoiceAuto,
	})
	require.NoError(t, err)
	assert.Empty(t, req.Tools)
	assert.Nil(t, req.ToolChoice)
}

func TestMessageToOpenAI_Images(t *testing.T) {
	msg := conversation.NewUserMessage("look", &conversation.ImageContent{
		ImageContent: []byte{1, 2, 3},
		MediaType:    "image/png",
		Detail:       conversation.ImageDetailHigh,
	})
	om := messageToOpenAI(msg)
	assert.Empty(t, om.Content)
	require.Len(t, om.MultiContent, 2)
	assert.Equal(t, "look", om.MultiContent[0].Text)
	assert.Equal(t, "data:image/png;base64,AQID", om.MultiContent[1].ImageURL.URL)
}

func TestComplete_AgainstFakeServer(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "exec_python", "arguments": "{\"code\":\"print(1)\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewCompleter(MakeClient("test-key", srv.URL+"/v1"))
	assert.Equal(t, DefaultModel, c.Model())

	resp, err := c.Complete(context.Background(), engine.Request{
		Messages: []conversation.Message{conversation.NewUserMessage("run it")},
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got["model"])

	assert.Equal(t, engine.FinishReasonToolCalls, resp.FinishReason)
	assert.True(t, resp.WantsTools())
	assert.Equal(t, conversation.RoleAssistant, resp.Message.Role)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "exec_python", resp.Message.ToolCalls[0].Name)
	assert.Equal(t, `{"code":"print(1)"}`, resp.Message.ToolCalls[0].Arguments)
}
