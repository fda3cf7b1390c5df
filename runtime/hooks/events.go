package hooks

import "time"

// EventType identifies the kind of a progress event. The string values are
// the wire names consumed by gateway and WebSocket collaborators.
type EventType string

const (
	// EventTaskStart fires when a worker begins executing a task.
	EventTaskStart EventType = "task_start"
	// EventTaskComplete fires when a task's executor returns successfully.
	EventTaskComplete EventType = "task_complete"
	// EventTaskFail fires when a task's executor returns an error.
	EventTaskFail EventType = "task_fail"
	// EventQueueUpdated fires on every queue state transition with aggregate
	// statistics.
	EventQueueUpdated EventType = "queue_updated"
	// EventRollbackStart fires when a failure triggers the rollback cascade.
	EventRollbackStart EventType = "rollback_start"
	// EventRollbackComplete fires after the rollback cascade finishes.
	EventRollbackComplete EventType = "rollback_complete"
	// EventExecutionComplete fires once per execution with the terminal state.
	EventExecutionComplete EventType = "execution_complete"
	// EventModuleState fires on module lifecycle transitions.
	EventModuleState EventType = "module_state"
	// EventPluginInstalled fires after a plugin repository is cloned and
	// discovered.
	EventPluginInstalled EventType = "plugin_installed"
)

type (
	// Event is implemented by all progress events. Subscribers type-switch on
	// the concrete types to access event-specific fields:
	//
	//	func (s *mySub) HandleEvent(ctx context.Context, evt hooks.Event) error {
	//	    switch e := evt.(type) {
	//	    case *hooks.TaskCompleteEvent:
	//	        fmt.Println(e.NodeID, e.Elapsed)
	//	    case *hooks.TaskFailEvent:
	//	        fmt.Println(e.NodeID, e.Err)
	//	    }
	//	    return nil
	//	}
	Event interface {
		// Type returns the event type constant.
		Type() EventType
		// ExecutionID returns the execution this event belongs to. Module
		// and plugin events return an empty string.
		ExecutionID() string
		// Timestamp returns the Unix timestamp in milliseconds at event
		// creation, not delivery, so subscribers can derive latencies.
		Timestamp() int64
	}

	// TaskStartEvent fires when a task transitions to Running.
	TaskStartEvent struct {
		baseEvent
		// TaskID is the scheduler's task identifier (task_<node_id>).
		TaskID string
		// NodeID is the workflow node being executed.
		NodeID string
		// NodeType is the registered node type name.
		NodeType string
	}

	// TaskCompleteEvent fires when a task completes successfully.
	TaskCompleteEvent struct {
		baseEvent
		TaskID string
		NodeID string
		// Result maps output port names to produced values.
		Result map[string]any
		// Elapsed is the executor's wall-clock run time.
		Elapsed time.Duration
	}

	// TaskFailEvent fires when a task's executor returns an error.
	TaskFailEvent struct {
		baseEvent
		TaskID string
		NodeID string
		// Err is the executor failure. Subscribers serializing the event
		// should render Err.Error().
		Err error
	}

	// QueueUpdatedEvent carries aggregate queue statistics. Stats is a
	// snapshot taken at the transition that triggered the event.
	QueueUpdatedEvent struct {
		baseEvent
		Stats QueueStats
	}

	// QueueStats mirrors the execution queue counters.
	QueueStats struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	}

	// RollbackStartEvent fires when the executor begins compensating
	// completed tasks after a failure.
	RollbackStartEvent struct {
		baseEvent
		// FailedNodeID is the node whose failure triggered the cascade.
		FailedNodeID string
	}

	// RollbackCompleteEvent fires after the cascade has visited every
	// completed node in reverse completion order.
	RollbackCompleteEvent struct {
		baseEvent
		// RolledBack lists node ids whose rollback callable ran, in
		// invocation order.
		RolledBack []string
	}

	// ExecutionCompleteEvent fires once per execution.
	ExecutionCompleteEvent struct {
		baseEvent
		// State is "completed" or "failed".
		State string
		// Err is the original failure for failed executions, nil otherwise.
		Err error
	}

	// ModuleStateEvent fires on every module lifecycle transition.
	ModuleStateEvent struct {
		baseEvent
		ModuleID string
		From     string
		To       string
	}

	// PluginInstalledEvent fires after a successful plugin install.
	PluginInstalledEvent struct {
		baseEvent
		// URL is the git repository the plugin was cloned from.
		URL string
		// Dir is the directory the plugin was installed into.
		Dir string
	}

	// baseEvent holds the fields shared by all event types and provides the
	// ExecutionID and Timestamp implementations.
	baseEvent struct {
		executionID string
		timestamp   int64
	}
)

// ExecutionID returns the owning execution id.
func (e baseEvent) ExecutionID() string { return e.executionID }

// Timestamp returns the Unix millisecond timestamp at event creation.
func (e baseEvent) Timestamp() int64 { return e.timestamp }

// newBaseEvent stamps the event with the current time.
func newBaseEvent(executionID string) baseEvent {
	return baseEvent{executionID: executionID, timestamp: time.Now().UnixMilli()}
}

// NewTaskStartEvent constructs a TaskStartEvent.
func NewTaskStartEvent(executionID, taskID, nodeID, nodeType string) *TaskStartEvent {
	return &TaskStartEvent{
		baseEvent: newBaseEvent(executionID),
		TaskID:    taskID,
		NodeID:    nodeID,
		NodeType:  nodeType,
	}
}

// NewTaskCompleteEvent constructs a TaskCompleteEvent.
func NewTaskCompleteEvent(executionID, taskID, nodeID string, result map[string]any, elapsed time.Duration) *TaskCompleteEvent {
	return &TaskCompleteEvent{
		baseEvent: newBaseEvent(executionID),
		TaskID:    taskID,
		NodeID:    nodeID,
		Result:    result,
		Elapsed:   elapsed,
	}
}

// NewTaskFailEvent constructs a TaskFailEvent.
func NewTaskFailEvent(executionID, taskID, nodeID string, err error) *TaskFailEvent {
	return &TaskFailEvent{
		baseEvent: newBaseEvent(executionID),
		TaskID:    taskID,
		NodeID:    nodeID,
		Err:       err,
	}
}

// NewQueueUpdatedEvent constructs a QueueUpdatedEvent from a stats snapshot.
func NewQueueUpdatedEvent(executionID string, stats QueueStats) *QueueUpdatedEvent {
	return &QueueUpdatedEvent{baseEvent: newBaseEvent(executionID), Stats: stats}
}

// NewRollbackStartEvent constructs a RollbackStartEvent.
func NewRollbackStartEvent(executionID, failedNodeID string) *RollbackStartEvent {
	return &RollbackStartEvent{baseEvent: newBaseEvent(executionID), FailedNodeID: failedNodeID}
}

// NewRollbackCompleteEvent constructs a RollbackCompleteEvent.
func NewRollbackCompleteEvent(executionID string, rolledBack []string) *RollbackCompleteEvent {
	return &RollbackCompleteEvent{baseEvent: newBaseEvent(executionID), RolledBack: rolledBack}
}

// NewExecutionCompleteEvent constructs an ExecutionCompleteEvent.
func NewExecutionCompleteEvent(executionID, state string, err error) *ExecutionCompleteEvent {
	return &ExecutionCompleteEvent{baseEvent: newBaseEvent(executionID), State: state, Err: err}
}

// NewModuleStateEvent constructs a ModuleStateEvent. Module transitions are
// not tied to an execution.
func NewModuleStateEvent(moduleID, from, to string) *ModuleStateEvent {
	return &ModuleStateEvent{baseEvent: newBaseEvent(""), ModuleID: moduleID, From: from, To: to}
}

// NewPluginInstalledEvent constructs a PluginInstalledEvent.
func NewPluginInstalledEvent(url, dir string) *PluginInstalledEvent {
	return &PluginInstalledEvent{baseEvent: newBaseEvent(""), URL: url, Dir: dir}
}

// Type method implementations

func (e *TaskStartEvent) Type() EventType         { return EventTaskStart }
func (e *TaskCompleteEvent) Type() EventType      { return EventTaskComplete }
func (e *TaskFailEvent) Type() EventType          { return EventTaskFail }
func (e *QueueUpdatedEvent) Type() EventType      { return EventQueueUpdated }
func (e *RollbackStartEvent) Type() EventType     { return EventRollbackStart }
func (e *RollbackCompleteEvent) Type() EventType  { return EventRollbackComplete }
func (e *ExecutionCompleteEvent) Type() EventType { return EventExecutionComplete }
func (e *ModuleStateEvent) Type() EventType       { return EventModuleState }
func (e *PluginInstalledEvent) Type() EventType   { return EventPluginInstalled }
