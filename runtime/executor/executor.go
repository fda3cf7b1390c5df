// Package executor binds a workflow graph to the node registry and the
// execution queue. It derives the topological order, constructs one task per
// node with its dependency set, resolves cross-node references as workers pick
// tasks up, interprets control-flow nodes, and runs the rollback cascade when
// an executor fails.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/queue"
	"github.com/weftworks/weft/runtime/registry"
	"github.com/weftworks/weft/runtime/telemetry"
	"github.com/weftworks/weft/runtime/toposort"
)

// taskPrefix derives a task id from a node id so events remain traceable to
// both.
const taskPrefix = "task_"

// TaskID returns the scheduler task id for a workflow node.
func TaskID(nodeID string) string { return taskPrefix + nodeID }

type (
	// Results maps node ids to their produced outputs.
	Results map[string]map[string]any

	// Option configures an Executor.
	Option func(*Executor)

	// Executor runs one workflow against a registry. An Executor is
	// single-use: construct one per execution.
	Executor struct {
		g           *graph.Graph
		reg         *registry.Registry
		bus         hooks.Bus
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer
		workers     int
		poll        time.Duration
		executionID string

		mu              sync.Mutex
		results         Results
		completionOrder []string
		skipped         map[string]bool
		failure         error
		failedNode      string
	}
)

// WithBus publishes progress events to the given bus.
func WithBus(bus hooks.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithLogger configures the executor logger. When nil, the executor uses a
// noop logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics configures the executor metrics sink. When nil, the executor
// uses a noop sink.
func WithMetrics(metrics telemetry.Metrics) Option {
	return func(e *Executor) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer configures the executor tracer. When nil, the executor uses a
// noop tracer.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithWorkers sets the worker pool size (default queue.DefaultWorkers).
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithExecutionID sets the execution id stamped on progress events. A fresh
// uuid is generated when unset.
func WithExecutionID(id string) Option {
	return func(e *Executor) {
		if id != "" {
			e.executionID = id
		}
	}
}

// WithPollInterval overrides the queue's idle worker sleep. Tests use short
// intervals.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.poll = d
		}
	}
}

// New builds an executor for one run of g against reg.
func New(g *graph.Graph, reg *registry.Registry, opts ...Option) *Executor {
	e := &Executor{
		g:           g,
		reg:         reg,
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		tracer:      telemetry.NewNoopTracer(),
		workers:     queue.DefaultWorkers,
		executionID: uuid.NewString(),
		results:     make(Results),
		skipped:     make(map[string]bool),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e
}

// ExecutionID returns the id stamped on this execution's progress events.
func (e *Executor) ExecutionID() string { return e.executionID }

// Run executes the workflow and returns the outputs of every completed node.
// Cycles fail before any task starts. On the first executor failure the queue
// stops dispatching, in-flight tasks drain, the rollback cascade visits every
// completed node in reverse completion order, and the original failure is
// returned alongside the partial results.
func (e *Executor) Run(ctx context.Context) (Results, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("execution_id", e.executionID),
			attribute.Int("nodes", e.g.Len()),
		),
	)
	defer span.End()

	order, err := toposort.Kahn(e.g)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cyclic graph")
		return nil, err
	}
	e.logger.Debug(ctx, "execution order established",
		"execution_id", e.executionID, "order", order)

	q := queue.New(e.invoke,
		queue.WithWorkers(e.workers),
		queue.WithLogger(e.logger),
		queue.WithCallbacks(e.callbacks(ctx)),
		queue.WithPollInterval(e.poll),
	)
	for _, nodeID := range order {
		n := e.g.Node(nodeID)
		deps := e.g.Dependencies(nodeID)
		taskDeps := make([]string, len(deps))
		for i, dep := range deps {
			taskDeps[i] = TaskID(dep)
		}
		t := &queue.Task{
			ID:           TaskID(nodeID),
			NodeID:       nodeID,
			NodeType:     n.Type,
			Inputs:       n.Inputs,
			Dependencies: taskDeps,
			Priority:     n.Priority,
		}
		if err := q.Add(t); err != nil {
			return nil, fmt.Errorf("enqueue node %q: %w", nodeID, err)
		}
	}

	q.Start(ctx)
	if err := q.Wait(ctx); err != nil {
		q.Stop()
		span.RecordError(err)
		return nil, err
	}
	q.Stop()

	e.mu.Lock()
	failure := e.failure
	failedNode := e.failedNode
	results := e.snapshotResultsLocked()
	e.mu.Unlock()

	if failure != nil {
		e.rollback(ctx, failedNode)
		e.publish(ctx, hooks.NewExecutionCompleteEvent(e.executionID, "failed", failure))
		e.metrics.IncCounter("weft.executions", 1, "state", "failed")
		span.RecordError(failure)
		span.SetStatus(codes.Error, "execution failed")
		return results, failure
	}

	e.publish(ctx, hooks.NewExecutionCompleteEvent(e.executionID, "completed", nil))
	e.metrics.IncCounter("weft.executions", 1, "state", "completed")
	span.SetStatus(codes.Ok, "ok")
	return results, nil
}

// invoke is the queue's Invoker. It runs in a worker goroutine once every
// dependency of t has completed.
func (e *Executor) invoke(ctx context.Context, t *queue.Task) (map[string]any, error) {
	e.mu.Lock()
	skipped := e.skipped[t.NodeID]
	e.mu.Unlock()
	if skipped {
		e.record(t.NodeID, map[string]any{}, true)
		return map[string]any{}, nil
	}

	// Literal bindings are schema-checked before resolution; resolved
	// reference values are opaque flows the schema does not constrain.
	if err := e.reg.ValidateInputs(t.NodeType, t.Inputs); err != nil {
		return nil, &ExecutorFailureError{NodeID: t.NodeID, NodeType: t.NodeType, Err: err}
	}

	inputs, err := e.resolveInputs(t.NodeID, t.Inputs)
	if err != nil {
		return nil, err
	}

	if t.NodeType == ConditionNodeType {
		if err := e.evalConditionInput(t.NodeID, inputs); err != nil {
			return nil, err
		}
	}

	exec, ok := e.reg.Executor(t.NodeType)
	if !ok {
		return nil, &ExecutorFailureError{
			NodeID:   t.NodeID,
			NodeType: t.NodeType,
			Err:      fmt.Errorf("no executor registered for node type %q", t.NodeType),
		}
	}

	start := time.Now()
	outputs, err := exec(ctx, inputs)
	e.metrics.RecordTimer("weft.node.duration", time.Since(start), "node_type", t.NodeType)
	if err != nil {
		return nil, &ExecutorFailureError{NodeID: t.NodeID, NodeType: t.NodeType, Err: err}
	}
	if outputs == nil {
		outputs = map[string]any{}
	}

	if t.NodeType == ConditionNodeType {
		e.interpretCondition(ctx, t.NodeID, inputs, outputs)
	}

	e.record(t.NodeID, outputs, false)
	return outputs, nil
}

// resolveInputs rewrites reference bindings into the source tasks' recorded
// outputs. The scheduler guarantees sources have completed; a missing source
// or output is an UnresolvedReferenceError. References into skipped nodes
// resolve to the target port's declared default, else nil.
func (e *Executor) resolveInputs(nodeID string, bindings map[string]any) (map[string]any, error) {
	d, _ := e.reg.Lookup(e.g.Node(nodeID).Type)

	resolved := make(map[string]any, len(bindings))
	e.mu.Lock()
	defer e.mu.Unlock()
	for port, v := range bindings {
		ref, isRef, err := graph.AsRef(v)
		if err != nil {
			return nil, &UnresolvedReferenceError{NodeID: nodeID, Ref: fmt.Sprint(v), Reason: err.Error()}
		}
		if !isRef {
			resolved[port] = v
			continue
		}
		if e.skipped[ref.Node] {
			resolved[port] = skippedDefault(d, port)
			continue
		}
		outputs, ok := e.results[ref.Node]
		if !ok {
			return nil, &UnresolvedReferenceError{
				NodeID: nodeID,
				Ref:    ref.String(),
				Reason: fmt.Sprintf("source node %q has no recorded outputs", ref.Node),
			}
		}
		value, ok := outputs[ref.Output]
		if !ok {
			return nil, &UnresolvedReferenceError{
				NodeID: nodeID,
				Ref:    ref.String(),
				Reason: fmt.Sprintf("source node %q produced no output %q", ref.Node, ref.Output),
			}
		}
		resolved[port] = value
	}

	if d != nil {
		for _, p := range d.Inputs {
			if _, bound := resolved[p.Name]; !bound && p.HasDefault {
				resolved[p.Name] = p.Default
			}
		}
	}
	return resolved, nil
}

// skippedDefault picks the value a reference into a skipped branch resolves
// to: the target port's declared default when it has one, nil otherwise.
func skippedDefault(d *registry.Descriptor, port string) any {
	if d == nil {
		return nil
	}
	if p := d.Input(port); p != nil && p.HasDefault {
		return p.Default
	}
	return nil
}

// record stores a node's outputs on the executor, the graph, and the
// completion order. Skipped nodes are excluded from rollback.
func (e *Executor) record(nodeID string, outputs map[string]any, skip bool) {
	e.mu.Lock()
	e.results[nodeID] = outputs
	if !skip {
		e.completionOrder = append(e.completionOrder, nodeID)
	}
	e.mu.Unlock()
	e.g.SetNodeOutputs(nodeID, outputs)
}

// rollback invokes each completed node's rollback callable in exact reverse
// completion order. Failures are logged and the cascade continues.
func (e *Executor) rollback(ctx context.Context, failedNode string) {
	e.mu.Lock()
	order := make([]string, len(e.completionOrder))
	copy(order, e.completionOrder)
	e.mu.Unlock()

	e.publish(ctx, hooks.NewRollbackStartEvent(e.executionID, failedNode))
	var rolledBack []string
	for i := len(order) - 1; i >= 0; i-- {
		nodeID := order[i]
		n := e.g.Node(nodeID)
		rb, ok := e.reg.RollbackFunc(n.Type)
		if !ok {
			continue
		}
		e.mu.Lock()
		outputs := e.results[nodeID]
		e.mu.Unlock()
		if err := rb(ctx, n.Inputs, outputs); err != nil {
			rbErr := &RollbackFailureError{NodeID: nodeID, Err: err}
			e.logger.Error(ctx, "rollback failed",
				"execution_id", e.executionID, "node_id", nodeID, "err", rbErr)
			e.metrics.IncCounter("weft.rollbacks", 1, "state", "failed")
			continue
		}
		rolledBack = append(rolledBack, nodeID)
		e.metrics.IncCounter("weft.rollbacks", 1, "state", "ok")
	}
	e.publish(ctx, hooks.NewRollbackCompleteEvent(e.executionID, rolledBack))
}

// callbacks bridges queue transitions onto the hooks bus and records the
// first failure.
func (e *Executor) callbacks(ctx context.Context) queue.Callbacks {
	return queue.Callbacks{
		OnTaskStart: func(taskID, nodeID, nodeType string) {
			e.publish(ctx, hooks.NewTaskStartEvent(e.executionID, taskID, nodeID, nodeType))
		},
		OnTaskComplete: func(taskID, nodeID string, result map[string]any, elapsed time.Duration) {
			e.publish(ctx, hooks.NewTaskCompleteEvent(e.executionID, taskID, nodeID, result, elapsed))
		},
		OnTaskFail: func(taskID, nodeID string, err error) {
			e.mu.Lock()
			if e.failure == nil {
				e.failure = err
				e.failedNode = nodeID
			}
			e.mu.Unlock()
			e.publish(ctx, hooks.NewTaskFailEvent(e.executionID, taskID, nodeID, err))
		},
		OnQueueUpdated: func(stats queue.Stats) {
			e.publish(ctx, hooks.NewQueueUpdatedEvent(e.executionID, hooks.QueueStats(stats)))
		},
	}
}

// publish emits an event when a bus is wired. Subscriber errors are logged,
// not propagated: progress observation never halts an execution.
func (e *Executor) publish(ctx context.Context, evt hooks.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, evt); err != nil {
		e.logger.Warn(ctx, "progress event dropped",
			"execution_id", e.executionID, "event", string(evt.Type()), "err", err)
	}
}

func (e *Executor) snapshotResultsLocked() Results {
	out := make(Results, len(e.results))
	for id, r := range e.results {
		out[id] = r
	}
	return out
}
