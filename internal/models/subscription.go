package models

import "time"

// MaxFailedEvents is the number of consecutive failed events after
// which a subscription is force-disabled.
const MaxFailedEvents = 10

// AutoDisableReason is written to LastError when the failure threshold
// trips.
const AutoDisableReason = "auto-disabled after 10 consecutive failures"

// Subscription is a workspace-scoped registration of an external
// endpoint for a set of event patterns.
type Subscription struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Description string   `json:"description,omitempty"`
	Active      bool     `json:"active"`

	// Delivery bookkeeping, maintained by the health monitor.
	// FailedAttempts counts consecutive failed events and resets to
	// zero on the first success.
	DeliveryAttempts int        `json:"delivery_attempts"`
	FailedAttempts   int        `json:"failed_attempts"`
	LastDeliveryAt   *time.Time `json:"last_delivery_at,omitempty"`
	LastSuccessAt    *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt    *time.Time `json:"last_failure_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SigningSecret is one row of a subscription's secret history. At most
// one secret is active for new signing; retired secrets keep an expiry
// so in-flight deliveries signed with them can still be verified.
type SigningSecret struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	Secret         string     `json:"secret,omitempty"`
	Active         bool       `json:"active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
