package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/runtime/queue"
)

const testPoll = 2 * time.Millisecond

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPriorityDispatchOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(1), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "low", NodeID: "low", Priority: 90}))
	require.NoError(t, q.Add(&queue.Task{ID: "high", NodeID: "high", Priority: 10}))
	require.NoError(t, q.Add(&queue.Task{ID: "mid_first", NodeID: "m1", Priority: 50}))
	require.NoError(t, q.Add(&queue.Task{ID: "mid_second", NodeID: "m2", Priority: 50}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()

	assert.Equal(t, []string{"high", "mid_first", "mid_second", "low"}, order)
}

func TestZeroPriorityDefaults(t *testing.T) {
	var mu sync.Mutex
	var order []string
	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(1), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "defaulted", NodeID: "a"}))
	require.NoError(t, q.Add(&queue.Task{ID: "urgent", NodeID: "b", Priority: 10}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()

	assert.Equal(t, []string{"urgent", "defaulted"}, order)
}

func TestDependenciesGateDispatch(t *testing.T) {
	var mu sync.Mutex
	completed := make(map[string]bool)
	violation := false
	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		mu.Lock()
		for _, dep := range task.Dependencies {
			if !completed[dep] {
				violation = true
			}
		}
		completed[task.ID] = true
		mu.Unlock()
		return map[string]any{"node": task.NodeID}, nil
	}

	q := queue.New(invoker, queue.WithWorkers(4), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "c", NodeID: "c", Dependencies: []string{"a", "b"}}))
	require.NoError(t, q.Add(&queue.Task{ID: "a", NodeID: "a"}))
	require.NoError(t, q.Add(&queue.Task{ID: "b", NodeID: "b"}))
	require.NoError(t, q.Add(&queue.Task{ID: "d", NodeID: "d", Dependencies: []string{"c"}}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()

	assert.False(t, violation, "a task started before its dependencies completed")
	stats := q.Stats()
	assert.Equal(t, 4, stats.Completed)
	assert.Zero(t, stats.Failed)

	status, err := q.TaskStatus("d")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, status)

	result, err := q.TaskResult("a")
	require.NoError(t, err)
	assert.Equal(t, "a", result["node"])
}

func TestFailureBlocksDependentClosure(t *testing.T) {
	boom := errors.New("exec blew up")
	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		if task.ID == "b" {
			return nil, boom
		}
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(2), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "a", NodeID: "a"}))
	require.NoError(t, q.Add(&queue.Task{ID: "b", NodeID: "b", Dependencies: []string{"a"}}))
	require.NoError(t, q.Add(&queue.Task{ID: "c", NodeID: "c", Dependencies: []string{"b"}}))
	require.NoError(t, q.Add(&queue.Task{ID: "d", NodeID: "d", Dependencies: []string{"c"}}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)), "queue must converge despite blocked dependents")
	q.Stop()

	stats := q.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Pending, "blocked tasks stay pending")

	for _, id := range []string{"c", "d"} {
		status, err := q.TaskStatus(id)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, status, "%s must never start", id)
	}
	status, err := q.TaskStatus("b")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, status)
}

func TestIndependentTasksRunConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	released := make(chan struct{})
	go func() {
		barrier.Wait()
		close(released)
	}()

	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		barrier.Done()
		select {
		case <-released:
			return nil, nil
		case <-time.After(3 * time.Second):
			return nil, errors.New("peer task never started")
		}
	}

	q := queue.New(invoker, queue.WithWorkers(2), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "left", NodeID: "left"}))
	require.NoError(t, q.Add(&queue.Task{ID: "right", NodeID: "right"}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()

	assert.Equal(t, 2, q.Stats().Completed)
}

func TestAddErrors(t *testing.T) {
	invoker := func(_ context.Context, _ *queue.Task) (map[string]any, error) { return nil, nil }
	q := queue.New(invoker, queue.WithPollInterval(testPoll))

	require.NoError(t, q.Add(&queue.Task{ID: "a", NodeID: "a"}))
	assert.ErrorIs(t, q.Add(&queue.Task{ID: "a", NodeID: "a"}), queue.ErrDuplicateTask)

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()
	assert.ErrorIs(t, q.Add(&queue.Task{ID: "b", NodeID: "b"}), queue.ErrStopped)
}

func TestUnknownTaskAccessors(t *testing.T) {
	q := queue.New(func(_ context.Context, _ *queue.Task) (map[string]any, error) { return nil, nil })

	_, err := q.TaskStatus("ghost")
	assert.ErrorIs(t, err, queue.ErrUnknownTask)
	_, err = q.TaskResult("ghost")
	assert.ErrorIs(t, err, queue.ErrUnknownTask)
}

func TestCallbackOrdering(t *testing.T) {
	var mu sync.Mutex
	var events []string
	updates := 0

	cb := queue.Callbacks{
		OnTaskStart: func(taskID, _, _ string) {
			mu.Lock()
			events = append(events, "start:"+taskID)
			mu.Unlock()
		},
		OnTaskComplete: func(taskID, _ string, _ map[string]any, _ time.Duration) {
			mu.Lock()
			events = append(events, "complete:"+taskID)
			mu.Unlock()
		},
		OnTaskFail: func(taskID, _ string, _ error) {
			mu.Lock()
			events = append(events, "fail:"+taskID)
			mu.Unlock()
		},
		OnQueueUpdated: func(_ queue.Stats) {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	}

	invoker := func(_ context.Context, task *queue.Task) (map[string]any, error) {
		if task.ID == "bad" {
			return nil, errors.New("nope")
		}
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(1), queue.WithPollInterval(testPoll), queue.WithCallbacks(cb))
	require.NoError(t, q.Add(&queue.Task{ID: "ok", NodeID: "ok", Priority: 1}))
	require.NoError(t, q.Add(&queue.Task{ID: "bad", NodeID: "bad", Priority: 2}))

	q.Start(waitCtx(t))
	require.NoError(t, q.Wait(waitCtx(t)))
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:ok", "complete:ok", "start:bad", "fail:bad"}, events)
	assert.GreaterOrEqual(t, updates, 2)
}

func TestStopDrainsInFlight(t *testing.T) {
	startedRunning := make(chan struct{})
	invoker := func(_ context.Context, _ *queue.Task) (map[string]any, error) {
		close(startedRunning)
		time.Sleep(30 * time.Millisecond)
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(1), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "slow", NodeID: "slow"}))
	q.Start(waitCtx(t))

	select {
	case <-startedRunning:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	q.Stop()

	status, err := q.TaskStatus("slow")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, status, "in-flight task finishes before Stop returns")

	q.Stop() // idempotent
}

func TestWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	invoker := func(_ context.Context, _ *queue.Task) (map[string]any, error) {
		<-block
		return nil, nil
	}

	q := queue.New(invoker, queue.WithWorkers(1), queue.WithPollInterval(testPoll))
	require.NoError(t, q.Add(&queue.Task{ID: "stuck", NodeID: "stuck"}))
	q.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)

	close(block)
	q.Stop()
}
