package models

import "time"

// Workspace is a tenant of the CRM. Every subscription, event and
// delivery log hangs off exactly one workspace.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
