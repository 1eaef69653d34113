package models

import (
	"encoding/json"
	"time"
)

// Event is an immutable domain fact handed to the dispatcher. It is
// never mutated after construction.
type Event struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspace_id"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
}

// NewEvent stamps an id and timestamp onto a validated domain fact.
func NewEvent(eventType, workspaceID string, data json.RawMessage, source string) *Event {
	return &Event{
		ID:          NewID("evt"),
		Type:        eventType,
		WorkspaceID: workspaceID,
		Data:        data,
		Timestamp:   time.Now().UTC(),
		Source:      source,
	}
}

// Envelope is the canonical wire form POSTed to receivers. The
// signature is computed over its exact serialized bytes.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspaceId"`
	Data        json.RawMessage `json:"data"`
	Timestamp   string          `json:"timestamp"`
	Source      string          `json:"source"`
	Version     string          `json:"version"`
}

// EnvelopeVersion is the wire format version tag.
const EnvelopeVersion = "1.0"

// NewEnvelope builds the wire envelope for an event.
func NewEnvelope(e *Event) Envelope {
	return Envelope{
		ID:          e.ID,
		Type:        e.Type,
		WorkspaceID: e.WorkspaceID,
		Data:        e.Data,
		Timestamp:   e.Timestamp.Format(time.RFC3339),
		Source:      e.Source,
		Version:     EnvelopeVersion,
	}
}
