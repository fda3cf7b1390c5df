// Package queue implements the priority execution queue: a fixed worker
// pool draining a min-heap of ready tasks, dependency bookkeeping over a
// forward graph, and permanent blocking of the dependents of failed tasks.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/telemetry"
)

var (
	// ErrDuplicateTask reports an Add with a task id already present.
	ErrDuplicateTask = errors.New("task already queued")
	// ErrStopped reports an Add after Stop.
	ErrStopped = errors.New("queue is stopped")
	// ErrUnknownTask reports an accessor call for an id never added.
	ErrUnknownTask = errors.New("unknown task")
)

// DefaultWorkers is the worker pool size unless overridden.
const DefaultWorkers = 4

// defaultPollInterval is how long an idle worker sleeps when the heap is
// empty before checking again.
const defaultPollInterval = 100 * time.Millisecond

type (
	// Status is a task's lifecycle state. Transitions are monotonic:
	// Pending → Running → Completed or Failed.
	Status string

	// Task is one schedulable unit of work. The queue owns all tasks by id;
	// dependencies and dependents are recorded as id lists, never as
	// pointers.
	Task struct {
		ID           string
		NodeID       string
		NodeType     string
		Inputs       map[string]any
		Dependencies []string
		Priority     int
		Status       Status
		Result       map[string]any
		Err          error
		Elapsed      time.Duration
	}

	// Invoker executes one task and returns its outputs.
	Invoker func(ctx context.Context, t *Task) (map[string]any, error)

	// Stats is a point-in-time snapshot of queue counters. Pending includes
	// tasks permanently blocked behind a failed dependency.
	Stats struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}

	// Callbacks receive task transitions. They are invoked outside the
	// queue lock; a task's start callback always precedes its terminal one.
	Callbacks struct {
		OnTaskStart    func(taskID, nodeID, nodeType string)
		OnTaskComplete func(taskID, nodeID string, result map[string]any, elapsed time.Duration)
		OnTaskFail     func(taskID, nodeID string, err error)
		OnQueueUpdated func(stats Stats)
	}

	// Option configures a queue.
	Option func(*Queue)

	// Queue dispatches tasks to a fixed worker pool in (priority,
	// insertion) order once their dependencies complete.
	Queue struct {
		invoker Invoker
		workers int
		poll    time.Duration
		logger  telemetry.Logger
		cb      Callbacks

		mu         sync.Mutex
		tasks      map[string]*Task
		dependents map[string][]string
		ready      taskHeap
		seq        int64
		running    int
		completed  int
		failed     int
		blocked    map[string]bool
		started    bool
		stopped    bool

		stop     chan struct{}
		stopOnce sync.Once
		done     chan struct{}
		doneOnce sync.Once
		wg       sync.WaitGroup
	}
)

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// WithWorkers sets the worker pool size (default DefaultWorkers).
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithCallbacks wires transition callbacks.
func WithCallbacks(cb Callbacks) Option {
	return func(q *Queue) { q.cb = cb }
}

// WithLogger sets the queue logger (default noop).
func WithLogger(logger telemetry.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithPollInterval overrides the idle worker sleep. Tests use short
// intervals.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.poll = d
		}
	}
}

// New builds a queue that executes tasks with the given invoker.
func New(invoker Invoker, opts ...Option) *Queue {
	q := &Queue{
		invoker:    invoker,
		workers:    DefaultWorkers,
		poll:       defaultPollInterval,
		logger:     telemetry.NewNoopLogger(),
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		blocked:    make(map[string]bool),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add registers a task. The task is pushed onto the ready heap immediately
// iff every dependency is already Completed; otherwise completion of its
// last dependency pushes it. A zero priority defaults to the graph default.
func (q *Queue) Add(t *Task) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if _, ok := q.tasks[t.ID]; ok {
		q.mu.Unlock()
		return ErrDuplicateTask
	}
	if t.Priority == 0 {
		t.Priority = graph.DefaultPriority
	}
	t.Status = StatusPending
	q.tasks[t.ID] = t
	for _, dep := range t.Dependencies {
		q.dependents[dep] = append(q.dependents[dep], t.ID)
	}

	pushed := false
	if q.depsCompletedLocked(t) {
		q.pushLocked(t)
		pushed = true
	}
	stats := q.statsLocked()
	q.mu.Unlock()

	if pushed && q.cb.OnQueueUpdated != nil {
		q.cb.OnQueueUpdated(stats)
	}
	return nil
}

// Start launches the worker pool. It is idempotent.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	workers := q.workers
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.checkConverged()
}

// Stop ceases dispatching: no new tasks are accepted, in-flight tasks
// finish, idle workers exit. It blocks until the pool has drained and is
// idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

// Wait blocks until every task is terminal or permanently blocked, or until
// ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	converged := q.convergedLocked()
	q.mu.Unlock()
	if converged {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// TaskStatus returns the lifecycle state of the given task.
func (q *Queue) TaskStatus(id string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return "", ErrUnknownTask
	}
	return t.Status, nil
}

// TaskResult returns the outputs of a completed task.
func (q *Queue) TaskResult(id string) (map[string]any, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	return t.Result, nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		q.mu.Lock()
		if q.ready.Len() == 0 {
			q.mu.Unlock()
			select {
			case <-time.After(q.poll):
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		item := heap.Pop(&q.ready).(*heapItem)
		t := q.tasks[item.id]
		if t == nil || t.Status != StatusPending || q.blocked[t.ID] {
			q.mu.Unlock()
			continue
		}
		t.Status = StatusRunning
		q.running++
		q.mu.Unlock()

		q.execute(ctx, t)
	}
}

func (q *Queue) execute(ctx context.Context, t *Task) {
	if q.cb.OnTaskStart != nil {
		q.cb.OnTaskStart(t.ID, t.NodeID, t.NodeType)
	}
	q.logger.Debug(ctx, "task started", "task_id", t.ID, "node_id", t.NodeID, "node_type", t.NodeType)

	start := time.Now()
	result, err := q.invoker(ctx, t)
	elapsed := time.Since(start)

	q.mu.Lock()
	t.Elapsed = elapsed
	if err != nil {
		t.Status = StatusFailed
		t.Err = err
		q.failed++
		q.blockDependentsLocked(t.ID)
	} else {
		t.Status = StatusCompleted
		t.Result = result
		q.completed++
		q.releaseDependentsLocked(t.ID)
	}
	q.running--
	stats := q.statsLocked()
	q.mu.Unlock()

	if err != nil {
		q.logger.Error(ctx, "task failed", "task_id", t.ID, "node_id", t.NodeID, "err", err)
		if q.cb.OnTaskFail != nil {
			q.cb.OnTaskFail(t.ID, t.NodeID, err)
		}
	} else {
		q.logger.Debug(ctx, "task completed", "task_id", t.ID, "node_id", t.NodeID, "elapsed_ms", elapsed.Milliseconds())
		if q.cb.OnTaskComplete != nil {
			q.cb.OnTaskComplete(t.ID, t.NodeID, result, elapsed)
		}
	}
	if q.cb.OnQueueUpdated != nil {
		q.cb.OnQueueUpdated(stats)
	}
	q.checkConverged()
}

// releaseDependentsLocked pushes every dependent of the completed task
// whose dependency set is now fully Completed.
func (q *Queue) releaseDependentsLocked(completedID string) {
	for _, id := range q.dependents[completedID] {
		t := q.tasks[id]
		if t == nil || t.Status != StatusPending || q.blocked[id] {
			continue
		}
		if q.depsCompletedLocked(t) {
			q.pushLocked(t)
		}
	}
}

// blockDependentsLocked marks the transitive dependent closure of a failed
// task as permanently blocked. Blocked tasks stay Pending, are never pushed,
// and count toward convergence.
func (q *Queue) blockDependentsLocked(failedID string) {
	stack := append([]string(nil), q.dependents[failedID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t := q.tasks[id]
		if t == nil || t.Status != StatusPending || q.blocked[id] {
			continue
		}
		q.blocked[id] = true
		stack = append(stack, q.dependents[id]...)
	}
}

func (q *Queue) depsCompletedLocked(t *Task) bool {
	for _, dep := range t.Dependencies {
		d, ok := q.tasks[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

func (q *Queue) pushLocked(t *Task) {
	q.seq++
	heap.Push(&q.ready, &heapItem{priority: t.Priority, seq: q.seq, id: t.ID})
}

// convergedLocked reports whether nothing can or will run anymore:
// every task is terminal or blocked and no worker is mid-task.
func (q *Queue) convergedLocked() bool {
	return q.running == 0 &&
		q.completed+q.failed+len(q.blocked) == len(q.tasks)
}

func (q *Queue) checkConverged() {
	q.mu.Lock()
	converged := q.started && q.convergedLocked()
	q.mu.Unlock()
	if converged {
		q.doneOnce.Do(func() { close(q.done) })
	}
}

func (q *Queue) statsLocked() Stats {
	total := len(q.tasks)
	return Stats{
		Total:     total,
		Pending:   total - q.running - q.completed - q.failed,
		Running:   q.running,
		Completed: q.completed,
		Failed:    q.failed,
	}
}
