package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallEventsReachHandler(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	var mu sync.Mutex
	var got []ToolCallStatusEvent
	received := make(chan struct{}, 4)
	router.AddToolCallHandler("collect", func(ev ToolCallStatusEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		received <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- router.Run(ctx) }()
	<-router.Running()

	pub := router.StatusPublisher()
	require.NoError(t, pub.PublishToolCallStatus(ToolCallStatusEvent{ThreadID: "t", CallID: "c1", Name: "echo", Status: "pending"}))
	require.NoError(t, pub.PublishToolCallStatus(ToolCallStatusEvent{ThreadID: "t", CallID: "c1", Name: "echo", Status: "completed", Duration: time.Second}))

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	mu.Lock()
	require.Len(t, got, 2)
	assert.Equal(t, "pending", got[0].Status)
	assert.Equal(t, "completed", got[1].Status)
	assert.Equal(t, time.Second, got[1].Duration)
	assert.False(t, got[1].Time.IsZero())
	mu.Unlock()

	require.NoError(t, router.Close())
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop")
	}
}

func TestLogToolCalls(t *testing.T) {
	assert.NoError(t, LogToolCalls(ToolCallStatusEvent{CallID: "c", Status: "failed", Error: "boom"}))
}
