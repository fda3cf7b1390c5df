package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewTaskStartEvent("exec1", "task_a", "a", "math.add")))
	require.NoError(t, bus.Publish(ctx, NewTaskCompleteEvent("exec1", "task_a", "a", map[string]any{"sum": 3}, time.Millisecond)))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
			order = append(order, name)
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, bus.Publish(ctx, NewQueueUpdatedEvent("exec1", QueueStats{Total: 1})))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestBusStopsAtFirstError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	boom := errors.New("boom")
	reached := false
	_, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		return boom
	}))
	require.NoError(t, err)
	_, err = bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		reached = true
		return nil
	}))
	require.NoError(t, err)

	require.ErrorIs(t, bus.Publish(ctx, NewTaskFailEvent("exec1", "task_a", "a", boom)), boom)
	require.False(t, reached)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewTaskStartEvent("exec1", "task_a", "a", "t")))
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent
	require.NoError(t, bus.Publish(ctx, NewTaskStartEvent("exec1", "task_b", "b", "t")))
	require.Equal(t, 1, count)
}

func TestBusConcurrentPublishAndRegister(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := bus.Register(SubscriberFunc(func(ctx context.Context, event Event) error {
					return nil
				}))
				require.NoError(t, err)
				require.NoError(t, bus.Publish(ctx, NewQueueUpdatedEvent("exec1", QueueStats{})))
				require.NoError(t, sub.Close())
			}
		}()
	}
	wg.Wait()
}

func TestChannelSubscriberDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	sub := NewChannelSubscriber(1)
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewTaskStartEvent("exec1", "task_a", "a", "t")))
	require.NoError(t, bus.Publish(ctx, NewTaskStartEvent("exec1", "task_b", "b", "t")))

	evt := <-sub.Events()
	start, ok := evt.(*TaskStartEvent)
	require.True(t, ok)
	require.Equal(t, "task_a", start.TaskID)

	select {
	case extra := <-sub.Events():
		t.Fatalf("expected second event to be dropped, got %v", extra.Type())
	default:
	}
}

func TestEventAccessors(t *testing.T) {
	before := time.Now().UnixMilli()
	evt := NewTaskCompleteEvent("exec9", "task_x", "x", nil, 5*time.Millisecond)
	after := time.Now().UnixMilli()

	require.Equal(t, EventTaskComplete, evt.Type())
	require.Equal(t, "exec9", evt.ExecutionID())
	require.GreaterOrEqual(t, evt.Timestamp(), before)
	require.LessOrEqual(t, evt.Timestamp(), after)
}
