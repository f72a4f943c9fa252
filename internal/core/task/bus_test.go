package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-dialer-service/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackfillTaskRoundTrip(t *testing.T) {
	task, err := NewBackfillTask("call-1", BackfillPayload{ConversationID: "conv_1", NeedRecording: true})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeBackfill, task.Type)

	p, err := task.BackfillPayload()
	require.NoError(t, err)
	assert.Equal(t, "conv_1", p.ConversationID)
	assert.True(t, p.NeedRecording)
	assert.False(t, p.NeedTranscript)

	_, err = Task{Type: "other"}.BackfillPayload()
	assert.Error(t, err)
}

func TestLocalBus(t *testing.T) {
	bus := NewLocalBus()
	ctx := context.Background()

	task := Task{Type: TaskTypeBackfill, CallID: "call-1"}
	assert.Error(t, bus.Publish(ctx, task))

	got := make(chan Task, 1)
	require.NoError(t, bus.Subscribe(ctx, func(ctx context.Context, task Task) {
		got <- task
	}))
	require.NoError(t, bus.Publish(ctx, task))
	bus.Wait()

	select {
	case received := <-got:
		assert.Equal(t, "call-1", received.CallID)
	default:
		t.Fatal("task was not delivered")
	}
}

func TestLocalBusRejectsAfterShutdown(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bus.Subscribe(ctx, func(context.Context, Task) {}))
	cancel()

	assert.ErrorIs(t, bus.Publish(context.Background(), Task{CallID: "c"}), context.Canceled)
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := redis.NewRedisService(ctx, &redis.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	defer svc.Close()

	bus := NewRedisBus(svc)
	got := make(chan Task, 1)
	require.NoError(t, bus.Subscribe(ctx, func(ctx context.Context, task Task) {
		got <- task
	}))

	task, err := NewBackfillTask("call-9", BackfillPayload{ConversationID: "conv_9", NeedTranscript: true})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, task))

	select {
	case received := <-got:
		assert.Equal(t, "call-9", received.CallID)
		p, err := received.BackfillPayload()
		require.NoError(t, err)
		assert.Equal(t, "conv_9", p.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered")
	}
}

func TestRedisBusDeliversToOneConsumer(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := redis.NewRedisService(ctx, &redis.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	defer svc.Close()

	var mu sync.Mutex
	handled := map[string]int{}
	got := make(chan struct{}, 10)
	handler := func(ctx context.Context, task Task) {
		mu.Lock()
		handled[task.CallID]++
		mu.Unlock()
		got <- struct{}{}
	}

	first, second := NewRedisBus(svc), NewRedisBus(svc)
	require.NoError(t, first.Subscribe(ctx, handler))
	require.NoError(t, second.Subscribe(ctx, handler))

	for _, id := range []string{"call-1", "call-2", "call-3"} {
		require.NoError(t, first.Publish(ctx, Task{Type: TaskTypeBackfill, CallID: id}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("task was not delivered")
		}
	}

	select {
	case <-got:
		t.Fatal("task delivered more than once")
	case <-time.After(200 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"call-1": 1, "call-2": 1, "call-3": 1}, handled)
}
