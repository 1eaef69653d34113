package storage

import (
	"context"
	"time"

	"github.com/forgecrm/hookd/internal/models"
)

type Storage interface {
	// Workspaces
	CreateWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	GetWorkspaceByAPIKey(ctx context.Context, apiKey string) (*models.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]models.Workspace, error)
	UpdateWorkspaceAPIKey(ctx context.Context, id, newKey string) error

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, workspaceID string) ([]models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, workspaceID string) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	SetSubscriptionActive(ctx context.Context, id string, active bool, reason string) error

	// RecordOutcome applies the per-event counters in a single atomic
	// UPDATE and reports whether the consecutive-failure threshold
	// force-disabled the subscription.
	RecordOutcome(ctx context.Context, id string, success bool, errText string, maxFailedEvents int) (disabled bool, err error)

	// Secrets
	CreateSecret(ctx context.Context, sec *models.SigningSecret) error
	GetActiveSecret(ctx context.Context, subscriptionID string) (*models.SigningSecret, error)
	ListSecrets(ctx context.Context, subscriptionID string) ([]models.SigningSecret, error)
	RetireActiveSecrets(ctx context.Context, subscriptionID string, expiresAt time.Time) error

	// Delivery ledger
	CreateDeliveryLog(ctx context.Context, log *models.DeliveryLog) error
	GetDeliveryLog(ctx context.Context, id string) (*models.DeliveryLog, error)
	ListDeliveryLogs(ctx context.Context, subscriptionID string, limit, offset int) ([]models.DeliveryLog, error)
	ListReplays(ctx context.Context, rootLogID string) ([]models.DeliveryLog, error)
	DeleteDeliveryLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RecentSuccessRate returns the success percentage over the last
	// `window` ledger rows for a subscription, and the number of rows
	// actually considered.
	RecentSuccessRate(ctx context.Context, subscriptionID string, window int) (rate float64, sampled int, err error)

	// ListAutoDisableCandidates returns active subscriptions with at
	// least minFailures failed deliveries and no successes since the
	// given time.
	ListAutoDisableCandidates(ctx context.Context, since time.Time, minFailures int) ([]models.Subscription, error)

	// Audit
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error

	// Stats
	GetStats(ctx context.Context, workspaceID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalSubscriptions  int64   `json:"total_subscriptions"`
	ActiveSubscriptions int64   `json:"active_subscriptions"`
	TotalDeliveries     int64   `json:"total_deliveries"`
	SuccessCount        int64   `json:"success_count"`
	FailedCount         int64   `json:"failed_count"`
	SuccessRate         float64 `json:"success_rate"`
	AvgResponseTimeMs   float64 `json:"avg_response_time_ms"`
}
