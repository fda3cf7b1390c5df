package plugin

import (
	"errors"
	"fmt"
)

// ErrUnknownPlugin is returned for operations on a plugin id that was never
// discovered or installed.
var ErrUnknownPlugin = errors.New("unknown plugin")

// NetworkError reports a failed fetch of one index URL. The index keeps
// serving previously cached entries for that URL.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("plugin index %s unreachable: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
