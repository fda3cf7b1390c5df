package module

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownModule reports an operation on a module id that was never
// registered.
var ErrUnknownModule = errors.New("unknown module")

// LoadTimeoutError reports a loader or activate callable exceeding the
// manager's load timeout.
type LoadTimeoutError struct {
	ID      string
	Timeout time.Duration
}

// Error implements error.
func (e *LoadTimeoutError) Error() string {
	return fmt.Sprintf("module %q: load timed out after %s", e.ID, e.Timeout)
}

// LoadFailureError reports a module whose load attempts are exhausted or
// whose loader returned an error.
type LoadFailureError struct {
	ID  string
	Err error
}

// Error implements error.
func (e *LoadFailureError) Error() string {
	return fmt.Sprintf("module %q: load failed: %v", e.ID, e.Err)
}

// Unwrap returns the underlying loader error.
func (e *LoadFailureError) Unwrap() error { return e.Err }

// DependencyError reports a declared module dependency that blocks
// activation: absent, failed, mid-transition, or itself failing to activate.
type DependencyError struct {
	ID         string
	Dependency string
	Reason     string
}

// Error implements error.
func (e *DependencyError) Error() string {
	return fmt.Sprintf("module %q: dependency %q: %s", e.ID, e.Dependency, e.Reason)
}
