package admission

import (
	"errors"
	"fmt"
)

/* Admission rejections are typed signals, not exceptions. The HTTP layer
 * maps each one to its status code; callers may retry later but the
 * controller never retries on their behalf.
 */

// ErrQueueTimeout signals that a queued connection waited the full queue
// timeout without a slot becoming free.
var ErrQueueTimeout = errors.New("timed out waiting for a connection slot")

// ErrQueueFull signals that the wait queue itself is at capacity.
var ErrQueueFull = errors.New("connection queue is full")

// OverloadedError reports that the global concurrency ceiling is reached.
type OverloadedError struct {
	Current int
	Limit   int
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("server overloaded: %d/%d connections active", e.Current, e.Limit)
}

// SourceThrottledError reports that one source holds too many connections.
type SourceThrottledError struct {
	Source  string
	Current int
	Limit   int
}

func (e *SourceThrottledError) Error() string {
	return fmt.Sprintf("source %s throttled: %d/%d connections active", e.Source, e.Current, e.Limit)
}
