package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

// successRateWindow bounds the "recent" sample for the healthiness
// predicate to the last N ledger rows of a subscription.
const successRateWindow = 50

// healthyFailureCeiling is the consecutive-failure count above which a
// subscription is considered unhealthy even while still active.
const healthyFailureCeiling = 5

// healthySuccessRate is the minimum recent success percentage for a
// healthy subscription.
const healthySuccessRate = 80.0

// Monitor owns subscription failure bookkeeping: per-event counters,
// auto-disablement and ledger retention.
type Monitor struct {
	store           storage.Storage
	maxFailedEvents int
	retentionDays   int
	log             zerolog.Logger
}

func NewMonitor(store storage.Storage, maxFailedEvents, retentionDays int, log zerolog.Logger) *Monitor {
	if maxFailedEvents <= 0 {
		maxFailedEvents = models.MaxFailedEvents
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Monitor{
		store:           store,
		maxFailedEvents: maxFailedEvents,
		retentionDays:   retentionDays,
		log:             log,
	}
}

// RecordOutcome applies the counters for one terminal delivery
// outcome. Counter updates happen as SQL arithmetic so two concurrent
// dispatches never lose an update. Errors are logged and swallowed;
// bookkeeping must never break a dispatch.
func (m *Monitor) RecordOutcome(ctx context.Context, subscriptionID string, success bool, errText string) {
	disabled, err := m.store.RecordOutcome(ctx, subscriptionID, success, errText, m.maxFailedEvents)
	if err != nil {
		m.log.Error().Err(err).
			Str("subscription_id", subscriptionID).
			Msg("failed to record delivery outcome")
		return
	}
	if disabled {
		m.log.Warn().
			Str("subscription_id", subscriptionID).
			Int("threshold", m.maxFailedEvents).
			Msg("subscription auto-disabled after consecutive failures")
	}
}

// IsHealthy reports whether a subscription is active, below the
// failure ceiling and above the recent success-rate floor. "Recent"
// is the last 50 ledger rows; a subscription with no history counts
// as healthy.
func (m *Monitor) IsHealthy(ctx context.Context, sub *models.Subscription) (bool, error) {
	if !sub.Active || sub.FailedAttempts >= healthyFailureCeiling {
		return false, nil
	}
	rate, sampled, err := m.store.RecentSuccessRate(ctx, sub.ID, successRateWindow)
	if err != nil {
		return false, err
	}
	if sampled == 0 {
		return true, nil
	}
	return rate > healthySuccessRate, nil
}

// CleanupOldEntries purges ledger rows older than the retention
// window. Idempotent; returns the number of rows removed.
func (m *Monitor) CleanupOldEntries(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -m.retentionDays)
	removed, err := m.store.DeleteDeliveryLogsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("purged old delivery logs")
	}
	return removed, nil
}

// CheckAndDisable is the defensive secondary sweep: it force-disables
// active subscriptions with at least the threshold of failures and no
// successes in the trailing 24 hours, covering counter-reset and
// clock-skew edge cases the per-event counter can miss.
func (m *Monitor) CheckAndDisable(ctx context.Context) (int, error) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	candidates, err := m.store.ListAutoDisableCandidates(ctx, since, m.maxFailedEvents)
	if err != nil {
		return 0, err
	}

	disabled := 0
	for _, sub := range candidates {
		if err := m.store.SetSubscriptionActive(ctx, sub.ID, false, models.AutoDisableReason); err != nil {
			m.log.Error().Err(err).
				Str("subscription_id", sub.ID).
				Msg("failed to disable unhealthy subscription")
			continue
		}
		disabled++
		m.log.Warn().
			Str("subscription_id", sub.ID).
			Str("url", sub.URL).
			Msg("subscription force-disabled by health sweep")
	}
	return disabled, nil
}
