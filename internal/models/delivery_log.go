package models

import (
	"encoding/json"
	"time"
)

// DeliveryLog is one durable ledger row per terminal delivery outcome.
// A retried event produces a single row carrying the attempt count that
// was actually used.
type DeliveryLog struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Success        bool            `json:"success"`
	StatusCode     int             `json:"status_code"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`

	// Replay lineage. ReplayedFrom points at the ledger row this one
	// was replayed from; the chain roots at the original delivery.
	ReplayedFrom    string     `json:"replayed_from,omitempty"`
	ReplayedBy      string     `json:"replayed_by,omitempty"`
	ReplayedAt      *time.Time `json:"replayed_at,omitempty"`
	OriginalEventID string     `json:"original_event_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsReplay reports whether this row was produced by a replay.
func (l *DeliveryLog) IsReplay() bool {
	return l.ReplayedFrom != ""
}
