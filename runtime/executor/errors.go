package executor

import "fmt"

// UnresolvedReferenceError reports a reference binding whose source task
// produced no matching output. It is fatal for the execution and triggers the
// rollback cascade.
type UnresolvedReferenceError struct {
	NodeID string
	Ref    string
	Reason string
}

// Error implements error.
func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("node %q: unresolved reference %q: %s", e.NodeID, e.Ref, e.Reason)
}

// ExecutorFailureError wraps an error returned by a node executor. It is
// fatal for the execution and triggers the rollback cascade.
type ExecutorFailureError struct {
	NodeID   string
	NodeType string
	Err      error
}

// Error implements error.
func (e *ExecutorFailureError) Error() string {
	return fmt.Sprintf("node %q (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

// Unwrap returns the underlying executor error.
func (e *ExecutorFailureError) Unwrap() error { return e.Err }

// RollbackFailureError reports a failed rollback callable. Rollback failures
// are logged and never abort the cascade.
type RollbackFailureError struct {
	NodeID string
	Err    error
}

// Error implements error.
func (e *RollbackFailureError) Error() string {
	return fmt.Sprintf("rollback of node %q failed: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying rollback error.
func (e *RollbackFailureError) Unwrap() error { return e.Err }
