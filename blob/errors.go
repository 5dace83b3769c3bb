package blob

import (
	"errors"
	"fmt"
)

/* Error taxonomy for blob retrieval and publishing
 * Validation failures are local and never retried; ErrNotAvailable is the
 * only error the retry wrapper acts on; everything else propagates as-is.
 */

// ErrNotAvailable signals that content has not propagated to any candidate
// endpoint yet. Callers may retry with backoff.
var ErrNotAvailable = errors.New("content not yet available")

// ErrRetriesExhausted signals that the retry budget was spent waiting for
// content to become available.
var ErrRetriesExhausted = errors.New("retries exhausted waiting for content")

// ValidationError reports a malformed blob identifier. It is raised before
// any network call is made.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid blob identifier %q: %s", e.ID, e.Reason)
}

// PublishError reports a non-2xx response from a publisher endpoint.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed with status %d: %s", e.StatusCode, e.Body)
}
