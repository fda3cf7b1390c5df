// Package engine is the submission façade over the weft runtime: parse and
// validate workflow documents, run them asynchronously, and query execution
// state. It wires the registry, module manager, plugin manager, and hooks
// bus together so callers hold a single handle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/weftworks/weft/runtime/config"
	"github.com/weftworks/weft/runtime/executor"
	"github.com/weftworks/weft/runtime/graph"
	"github.com/weftworks/weft/runtime/hooks"
	"github.com/weftworks/weft/runtime/module"
	"github.com/weftworks/weft/runtime/plugin"
	"github.com/weftworks/weft/runtime/registry"
	"github.com/weftworks/weft/runtime/telemetry"
)

// State is the lifecycle of one submitted execution.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrUnknownExecution is returned for queries about an id never submitted.
var ErrUnknownExecution = errors.New("unknown execution")

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("engine closed")

type (
	// ExecutionStatus is a point-in-time snapshot of one execution.
	ExecutionStatus struct {
		ID         string            `json:"id"`
		State      State             `json:"state"`
		Results    executor.Results  `json:"results,omitempty"`
		Error      string            `json:"error,omitempty"`
		NodeErrors map[string]string `json:"node_errors,omitempty"`
	}

	// QueueInfo aggregates execution counts by state plus task-level
	// counters summed from each execution's scheduler queue.
	QueueInfo struct {
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		// Tasks sums the latest queue snapshot of every tracked
		// execution, so callers see scheduler-level progress and not
		// just whole-execution states.
		Tasks hooks.QueueStats `json:"tasks"`
	}

	// ValidationReport is the outcome of validating a workflow document
	// without running it.
	ValidationReport struct {
		Valid bool `json:"valid"`
		// MissingNodes lists node types absent from the catalog.
		MissingNodes []string `json:"missing_nodes,omitempty"`
		// MissingNodesPlugins maps each resolvable missing type to the git
		// repository the plugin index says provides it.
		MissingNodesPlugins map[string]string `json:"missing_nodes_plugins,omitempty"`
		// Problems lists binding violations (unknown ports, type
		// mismatches, schema failures).
		Problems []string `json:"problems,omitempty"`
	}

	execution struct {
		id     string
		state  State
		res    executor.Results
		err    error
		nodeEr map[string]string
		// tasks is the last queue snapshot seen on the bus for this
		// execution.
		tasks  hooks.QueueStats
		cancel context.CancelFunc
		done   chan struct{}
	}
)

// Engine owns the runtime components and the set of submitted executions.
type Engine struct {
	reg     *registry.Registry
	modules *module.Manager
	plugins *plugin.Manager
	bus     hooks.Bus
	store   *config.Store
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer
	workers int
	qsub    hooks.Subscription

	mu     sync.Mutex
	execs  map[string]*execution
	closed bool
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry substitutes the node type registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithModules substitutes the module lifecycle manager.
func WithModules(m *module.Manager) Option {
	return func(e *Engine) { e.modules = m }
}

// WithPlugins substitutes the plugin manager.
func WithPlugins(p *plugin.Manager) Option {
	return func(e *Engine) { e.plugins = p }
}

// WithBus sets the hooks bus progress events publish to.
func WithBus(bus hooks.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithConfig sets the config store backing the workflow file store and
// plugin repositories.
func WithConfig(store *config.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger telemetry.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithWorkers sets the per-execution worker count.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New builds an engine. Components not supplied through options are
// created with defaults and wired to the same bus and logger.
func New(opts ...Option) *Engine {
	e := &Engine{
		bus:     hooks.NewBus(),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		execs:   make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reg == nil {
		e.reg = registry.New()
	}
	if e.modules == nil {
		e.modules = module.NewManager(
			module.WithLogger(e.logger),
			module.WithBus(e.bus),
		)
	}
	if e.plugins == nil {
		e.plugins = plugin.NewManager(e.modules, e.reg, e.store,
			plugin.WithLogger(e.logger),
			plugin.WithBus(e.bus),
		)
	}
	// Track each execution's queue counters so QueueInfo can report
	// task-level progress alongside execution states.
	e.qsub, _ = e.bus.Register(hooks.SubscriberFunc(func(_ context.Context, evt hooks.Event) error {
		qe, ok := evt.(*hooks.QueueUpdatedEvent)
		if !ok {
			return nil
		}
		e.mu.Lock()
		if exec, ok := e.execs[qe.ExecutionID()]; ok {
			exec.tasks = qe.Stats
		}
		e.mu.Unlock()
		return nil
	}))
	return e
}

// Registry exposes the node type catalog.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Modules exposes the module lifecycle manager.
func (e *Engine) Modules() *module.Manager { return e.modules }

// Plugins exposes the plugin manager.
func (e *Engine) Plugins() *plugin.Manager { return e.plugins }

// Bus exposes the hooks bus for subscribers.
func (e *Engine) Bus() hooks.Bus { return e.bus }

// Submit parses and validates a workflow document and starts executing it
// in the background. The returned id is queryable immediately.
func (e *Engine) Submit(ctx context.Context, doc []byte) (string, error) {
	g, err := graph.Parse(doc)
	if err != nil {
		return "", err
	}
	if missing := e.reg.ValidateWorkflow(g); len(missing) > 0 {
		return "", &registry.MissingNodeTypesError{Missing: missing}
	}
	if err := e.reg.ValidateBindings(g); err != nil {
		return "", err
	}

	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	exec := &execution{
		id:     id,
		state:  StatePending,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	e.execs[id] = exec
	e.wg.Add(1)
	e.mu.Unlock()

	go e.run(runCtx, exec, g)
	return id, nil
}

func (e *Engine) run(ctx context.Context, exec *execution, g *graph.Graph) {
	defer e.wg.Done()
	defer exec.cancel()
	defer close(exec.done)

	opts := []executor.Option{
		executor.WithExecutionID(exec.id),
		executor.WithBus(e.bus),
		executor.WithLogger(e.logger),
		executor.WithMetrics(e.metrics),
		executor.WithTracer(e.tracer),
	}
	if e.workers > 0 {
		opts = append(opts, executor.WithWorkers(e.workers))
	}
	ex := executor.New(g, e.reg, opts...)

	e.mu.Lock()
	exec.state = StateRunning
	e.mu.Unlock()

	results, err := ex.Run(ctx)

	e.mu.Lock()
	exec.res = results
	if err != nil {
		exec.state = StateFailed
		exec.err = err
		exec.nodeEr = nodeErrors(err)
	} else {
		exec.state = StateCompleted
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error(ctx, "execution failed", "execution_id", exec.id, "err", err)
	} else {
		e.logger.Info(ctx, "execution completed", "execution_id", exec.id)
	}
}

// nodeErrors attributes an execution failure to the node it arose from.
func nodeErrors(err error) map[string]string {
	out := make(map[string]string)
	var ef *executor.ExecutorFailureError
	if errors.As(err, &ef) {
		out[ef.NodeID] = ef.Err.Error()
	}
	var ur *executor.UnresolvedReferenceError
	if errors.As(err, &ur) {
		out[ur.NodeID] = ur.Error()
	}
	var rf *executor.RollbackFailureError
	if errors.As(err, &rf) {
		out[rf.NodeID] = rf.Err.Error()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Status snapshots one execution.
func (e *Engine) Status(id string) (ExecutionStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.execs[id]
	if !ok {
		return ExecutionStatus{}, fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}
	st := ExecutionStatus{
		ID:         exec.id,
		State:      exec.state,
		Results:    exec.res,
		NodeErrors: exec.nodeEr,
	}
	if exec.err != nil {
		st.Error = exec.err.Error()
	}
	return st, nil
}

// Results returns the outputs of a completed execution. Running or failed
// executions report an error instead of partial data.
func (e *Engine) Results(id string) (executor.Results, error) {
	st, err := e.Status(id)
	if err != nil {
		return nil, err
	}
	if st.State != StateCompleted {
		return nil, fmt.Errorf("execution %s is %s, not completed", id, st.State)
	}
	return st.Results, nil
}

// Wait blocks until the execution finishes or ctx expires, then returns
// its final status.
func (e *Engine) Wait(ctx context.Context, id string) (ExecutionStatus, error) {
	e.mu.Lock()
	exec, ok := e.execs[id]
	e.mu.Unlock()
	if !ok {
		return ExecutionStatus{}, fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}
	select {
	case <-exec.done:
		return e.Status(id)
	case <-ctx.Done():
		return ExecutionStatus{}, ctx.Err()
	}
}

// QueueInfo aggregates execution counts by state, live and finished, plus
// the summed task counters of every tracked execution's queue.
func (e *Engine) QueueInfo() QueueInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var info QueueInfo
	for _, exec := range e.execs {
		switch exec.state {
		case StatePending:
			info.Pending++
		case StateRunning:
			info.Running++
		case StateCompleted:
			info.Completed++
		case StateFailed:
			info.Failed++
		}
		info.Tasks.Total += exec.tasks.Total
		info.Tasks.Pending += exec.tasks.Pending
		info.Tasks.Running += exec.tasks.Running
		info.Tasks.Completed += exec.tasks.Completed
		info.Tasks.Failed += exec.tasks.Failed
	}
	return info
}

// Validate checks a workflow document without executing it. Missing node
// types are resolved against the plugin index to suggest installs.
func (e *Engine) Validate(ctx context.Context, doc []byte) (*ValidationReport, error) {
	g, err := graph.Parse(doc)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{Valid: true}
	if missing := e.reg.ValidateWorkflow(g); len(missing) > 0 {
		report.Valid = false
		report.MissingNodes = missing
		report.MissingNodesPlugins = make(map[string]string)
		for _, nodeType := range missing {
			if url, ok := e.plugins.Index().FindByNode(ctx, nodeType); ok {
				report.MissingNodesPlugins[nodeType] = url
			}
		}
		return report, nil
	}
	if err := e.reg.ValidateBindings(g); err != nil {
		report.Valid = false
		report.Problems = append(report.Problems, err.Error())
	}
	return report, nil
}

// Cancel asks a running execution to stop. Finished executions are left
// untouched.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	exec, ok := e.execs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownExecution, id)
	}
	exec.cancel()
	return nil
}

// Close stops accepting submissions and waits for in-flight executions to
// drain, bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	if e.qsub != nil {
		_ = e.qsub.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
