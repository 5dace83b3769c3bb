package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

/* Event envelope delivered to subscriber endpoints:
 * {id, event, timestamp, data, metadata:{source, version}}
 * Event data is a closed set of typed payloads, one struct per event
 * type, validated at dispatch time.
 */

const (
	// Source identifies this gateway in envelope metadata
	Source = "walcache"

	// Version is the envelope schema version
	Version = "1.0"
)

// Metadata describes the envelope origin
type Metadata struct {
	Source  string `json:"source"`
	Version string `json:"version"`
}

// Envelope is the wire format of one event
type Envelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// EventData is implemented by every payload variant
type EventData interface {
	EventType() string
	Validate() error
}

// BlobUploaded is raised when a blob is published to the network
type BlobUploaded struct {
	BlobID      string `json:"blob_id"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

func (BlobUploaded) EventType() string { return "blob.uploaded" }

func (e BlobUploaded) Validate() error {
	if e.BlobID == "" {
		return fmt.Errorf("blob_id is required")
	}
	return nil
}

// BlobRetrieved is raised when a blob read is satisfied
type BlobRetrieved struct {
	BlobID string `json:"blob_id"`
	Size   int64  `json:"size"`
	Source string `json:"source"`
}

func (BlobRetrieved) EventType() string { return "blob.retrieved" }

func (e BlobRetrieved) Validate() error {
	if e.BlobID == "" {
		return fmt.Errorf("blob_id is required")
	}
	return nil
}

// BlobPinned is raised when a cached blob is pinned
type BlobPinned struct {
	BlobID string `json:"blob_id"`
}

func (BlobPinned) EventType() string { return "blob.pinned" }

func (e BlobPinned) Validate() error {
	if e.BlobID == "" {
		return fmt.Errorf("blob_id is required")
	}
	return nil
}

// BlobUnpinned is raised when a pin is removed
type BlobUnpinned struct {
	BlobID string `json:"blob_id"`
}

func (BlobUnpinned) EventType() string { return "blob.unpinned" }

func (e BlobUnpinned) Validate() error {
	if e.BlobID == "" {
		return fmt.Errorf("blob_id is required")
	}
	return nil
}

// CacheEvicted is raised when a cache entry is dropped
type CacheEvicted struct {
	BlobID string `json:"blob_id"`
	Reason string `json:"reason,omitempty"`
}

func (CacheEvicted) EventType() string { return "cache.evicted" }

func (e CacheEvicted) Validate() error {
	if e.BlobID == "" {
		return fmt.Errorf("blob_id is required")
	}
	return nil
}

// EndpointUnhealthy is raised when an upstream endpoint stops responding
type EndpointUnhealthy struct {
	URL   string `json:"url"`
	Role  string `json:"role"`
	Error string `json:"error,omitempty"`
}

func (EndpointUnhealthy) EventType() string { return "endpoint.unhealthy" }

func (e EndpointUnhealthy) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// eventTypes is the closed set of supported event types
var eventTypes = []string{
	BlobUploaded{}.EventType(),
	BlobRetrieved{}.EventType(),
	BlobPinned{}.EventType(),
	BlobUnpinned{}.EventType(),
	CacheEvicted{}.EventType(),
	EndpointUnhealthy{}.EventType(),
}

// EventTypes returns all supported event types
func EventTypes() []string {
	return append([]string{}, eventTypes...)
}

// KnownEventType reports whether the type belongs to the closed set
func KnownEventType(t string) bool {
	for _, et := range eventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// New builds a validated envelope around a typed event payload
func New(data EventData) (Envelope, error) {
	if err := data.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("validating %s payload: %w", data.EventType(), err)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling event data: %w", err)
	}

	return Envelope{
		ID:        uuid.New().String(),
		Event:     data.EventType(),
		Timestamp: time.Now().UTC(),
		Data:      raw,
		Metadata:  Metadata{Source: Source, Version: Version},
	}, nil
}

// Parse decodes and validates an envelope
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the envelope structure
func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !KnownEventType(e.Event) {
		return fmt.Errorf("unknown event type: %s", e.Event)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if len(e.Data) == 0 || !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	return nil
}
