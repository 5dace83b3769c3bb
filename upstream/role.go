package upstream

import "fmt"

/* Role represents the function an upstream endpoint serves
 * Aggregators serve blob reads, publishers accept blob writes
 */
type Role int

const (
	Aggregator Role = iota + 1
	Publisher
)

// String returns the string representation of the role
func (r Role) String() string {
	switch r {
	case Aggregator:
		return "aggregator"
	case Publisher:
		return "publisher"
	default:
		return "unknown"
	}
}

// NewRole creates a Role from a string
func NewRole(s string) Role {
	switch s {
	case "aggregator":
		return Aggregator
	case "publisher":
		return Publisher
	default:
		return Aggregator
	}
}

// Validate checks if the role is valid
func (r Role) Validate() error {
	if r != Aggregator && r != Publisher {
		return fmt.Errorf("invalid role: %d", r)
	}
	return nil
}
