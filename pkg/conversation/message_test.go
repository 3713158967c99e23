package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeEqualIgnoresAppendTime(t *testing.T) {
	a := NewEnvelope(NewUserMessage("hello"))
	b := NewEnvelope(NewUserMessage("hello"))
	a.AppendedAt = time.Now()
	b.AppendedAt = a.AppendedAt.Add(time.Minute)
	require.True(t, a.Equal(b))

	c := NewEnvelope(NewUserMessage("hello!"))
	require.False(t, a.Equal(c))
}

func TestEnvelopeEqualTreatsNilAndEmptyAlike(t *testing.T) {
	a := Envelope{Message: Message{Role: RoleUser, Content: "x"}}
	b := Envelope{Message: Message{Role: RoleUser, Content: "x", ToolCalls: []ToolCall{}}, ToolCallIDs: []string{}}
	require.True(t, a.Equal(b))
}

func TestNewEnvelopeCollectsToolCallIDs(t *testing.T) {
	env := NewEnvelope(NewAssistantMessage("", ToolCall{ID: "a", Name: "x"}, ToolCall{ID: "b", Name: "y"}))
	require.Equal(t, []string{"a", "b"}, env.ToolCallIDs)

	res := NewEnvelope(NewToolResultMessage("a", "x", `"ok"`))
	require.Equal(t, []string{"a"}, res.ToolCallIDs)
}

func TestMessageJSONUsesProtocolFieldNames(t *testing.T) {
	b, err := json.Marshal(NewToolResultMessage("call-1", "echo", `{"echo":"hi"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"tool","name":"echo","tool_call_id":"call-1","content":"{\"echo\":\"hi\"}"}`, string(b))
}

func TestToolCallOnlyMessageHasNoText(t *testing.T) {
	m := NewAssistantMessage("", ToolCall{ID: "a", Name: "x"})
	require.False(t, m.HasText())
	require.Equal(t, 0, m.TextLength())
	require.Contains(t, m.String(), "tool calls: x")
}
