package webhook

import "time"

/* Delivery represents one (endpoint x event) pairing created at dispatch
 * time. Terminal states are Delivered and Failed; retries mutate the
 * attempt count, status, and next-retry timestamp.
 */

// ResponseSnapshot captures the outcome of the last delivery attempt
type ResponseSnapshot struct {
	StatusCode int       `json:"status_code,omitempty"`
	Body       string    `json:"body,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type Delivery struct {
	ID           string
	EndpointID   string
	EventID      string
	EventType    string
	Payload      []byte
	Attempts     int
	Status       Status
	LastResponse *ResponseSnapshot
	NextRetryAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
