package webhook

import "fmt"

/* Status is the lifecycle state of one delivery. A delivery moves
 * Pending -> Delivering, then Delivered on a 2xx response, Retrying while
 * backoff attempts remain, or Failed once they run out.
 */
type Status int

const (
	Pending Status = iota + 1
	Delivering
	Delivered
	Failed
	Retrying
)

// String returns the wire form used in the store and the API
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivering:
		return "delivering"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case Retrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// NewStatus parses the wire form; unknown strings map to Pending
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "delivering":
		return Delivering
	case "delivered":
		return Delivered
	case "failed":
		return Failed
	case "retrying":
		return Retrying
	default:
		return Pending
	}
}

// Validate rejects values outside the known lifecycle states
func (s Status) Validate() error {
	if s < Pending || s > Retrying {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal reports whether the delivery will never be attempted again
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed
}
