package blob

import (
	"regexp"
	"strings"
)

// MinIDLength is the minimum length of a blob identifier before padding
const MinIDLength = 20

// idPattern matches the URL-safe base64 charset used by blob identifiers
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateID checks the format of a blob identifier: URL-safe base64
// characters, at least MinIDLength long, with up to two trailing padding
// characters. An invalid identifier never reaches the network.
func ValidateID(id string) error {
	trimmed := strings.TrimRight(id, "=")
	if len(id)-len(trimmed) > 2 {
		return &ValidationError{ID: id, Reason: "too much padding"}
	}
	if len(trimmed) < MinIDLength {
		return &ValidationError{ID: id, Reason: "too short"}
	}
	if !idPattern.MatchString(trimmed) {
		return &ValidationError{ID: id, Reason: "contains characters outside the URL-safe base64 charset"}
	}
	return nil
}
