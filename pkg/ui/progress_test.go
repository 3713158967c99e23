package ui

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAppender struct{}

func (nopAppender) Append(string, conversation.Envelope) error { return nil }

type sleepInput struct {
	Millis int `json:"millis"`
}

func TestRenderToolCalls(t *testing.T) {
	out := RenderToolCalls([]tools.PendingToolCall{
		{ID: "call_1", Name: "exec_python", Status: tools.StatusPending},
		{ID: "call_2", Name: "read_file", Status: tools.StatusFailed},
	})
	assert.Contains(t, out, "Tool Call Status")
	assert.Contains(t, out, "call_1")
	assert.Contains(t, out, "exec_python")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "failed")
}

func TestProgressTableWatchesBatchToCompletion(t *testing.T) {
	reg := tools.NewInMemoryToolRegistry()
	def, err := tools.NewToolFromFunc("sleep", "sleeps", func(in sleepInput) (string, error) {
		time.Sleep(time.Duration(in.Millis) * time.Millisecond)
		return "ok", nil
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(def))

	for _, interactive := range []bool{false, true} {
		var buf bytes.Buffer
		pt := NewProgressTable(&buf, interactive)
		pt.Interval = 5 * time.Millisecond

		done := make(chan struct{})
		d := tools.NewDispatcher(reg, nopAppender{}, tools.WithProgress(func(b *tools.Batch) {
			go func() {
				defer close(done)
				pt.Watch(context.Background(), b)
			}()
		}))

		_, err := d.Dispatch(context.Background(), "thread", []conversation.ToolCall{
			{ID: "a", Name: "sleep", Arguments: `{"millis":30}`},
			{ID: "b", Name: "sleep", Arguments: `{"millis":10}`},
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("progress table did not finish")
		}
		assert.Contains(t, buf.String(), "completed")
	}
}

func TestRendererPassThrough(t *testing.T) {
	r := NewRenderer(false, 80)
	assert.Equal(t, "**bold**", r.Render("**bold**"))
}
