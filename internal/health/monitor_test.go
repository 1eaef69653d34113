package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedSubscription(t *testing.T, store storage.Storage) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	ws := &models.Workspace{
		ID:        models.NewID("ws"),
		Name:      "test",
		APIKey:    models.NewAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateWorkspace(ctx, ws))

	sub := &models.Subscription{
		ID:          models.NewID("sub"),
		WorkspaceID: ws.ID,
		URL:         "https://receiver.example.com/hook",
		EventTypes:  []string{"*"},
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, store.CreateSubscription(ctx, sub))
	return sub
}

func seedLog(t *testing.T, store storage.Storage, subID string, success bool, createdAt time.Time) {
	t.Helper()
	require.NoError(t, store.CreateDeliveryLog(context.Background(), &models.DeliveryLog{
		ID:             models.NewID("log"),
		SubscriptionID: subID,
		EventID:        models.NewID("evt"),
		EventType:      "contact.created",
		Payload:        []byte(`{}`),
		Success:        success,
		StatusCode:     200,
		Attempts:       1,
		CreatedAt:      createdAt,
	}))
}

func TestRecordOutcomeCounters(t *testing.T) {
	store := newTestStore(t)
	sub := seedSubscription(t, store)
	m := NewMonitor(store, 10, 30, zerolog.Nop())
	ctx := context.Background()

	m.RecordOutcome(ctx, sub.ID, false, "HTTP 500")
	m.RecordOutcome(ctx, sub.ID, false, "HTTP 500")

	fresh, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.DeliveryAttempts)
	assert.Equal(t, 2, fresh.FailedAttempts)
	assert.Equal(t, "HTTP 500", fresh.LastError)
	assert.NotNil(t, fresh.LastFailureAt)
	assert.True(t, fresh.Active)

	// First success resets the consecutive counter and clears the error.
	m.RecordOutcome(ctx, sub.ID, true, "")

	fresh, err = store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh.DeliveryAttempts)
	assert.Zero(t, fresh.FailedAttempts)
	assert.Empty(t, fresh.LastError)
	assert.NotNil(t, fresh.LastSuccessAt)
}

func TestRecordOutcomeAutoDisables(t *testing.T) {
	store := newTestStore(t)
	sub := seedSubscription(t, store)
	m := NewMonitor(store, 10, 30, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		m.RecordOutcome(ctx, sub.ID, false, "HTTP 500")
	}
	fresh, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, fresh.Active, "still active below the threshold")

	m.RecordOutcome(ctx, sub.ID, false, "HTTP 500")

	fresh, err = store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Active)
	assert.Equal(t, 10, fresh.FailedAttempts)
	assert.Equal(t, models.AutoDisableReason, fresh.LastError)
}

func TestIsHealthy(t *testing.T) {
	store := newTestStore(t)
	m := NewMonitor(store, 10, 30, zerolog.Nop())
	ctx := context.Background()

	t.Run("inactive is unhealthy", func(t *testing.T) {
		sub := seedSubscription(t, store)
		sub.Active = false
		healthy, err := m.IsHealthy(ctx, sub)
		require.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("failure ceiling is unhealthy", func(t *testing.T) {
		sub := seedSubscription(t, store)
		sub.FailedAttempts = 5
		healthy, err := m.IsHealthy(ctx, sub)
		require.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("no history is healthy", func(t *testing.T) {
		sub := seedSubscription(t, store)
		healthy, err := m.IsHealthy(ctx, sub)
		require.NoError(t, err)
		assert.True(t, healthy)
	})

	t.Run("high recent success rate is healthy", func(t *testing.T) {
		sub := seedSubscription(t, store)
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 9; i++ {
			seedLog(t, store, sub.ID, true, base.Add(time.Duration(i)*time.Minute))
		}
		seedLog(t, store, sub.ID, false, base.Add(10*time.Minute))

		healthy, err := m.IsHealthy(ctx, sub)
		require.NoError(t, err)
		assert.True(t, healthy)
	})

	t.Run("low recent success rate is unhealthy", func(t *testing.T) {
		sub := seedSubscription(t, store)
		base := time.Now().UTC().Add(-time.Hour)
		for i := 0; i < 5; i++ {
			seedLog(t, store, sub.ID, true, base.Add(time.Duration(i)*time.Minute))
		}
		for i := 5; i < 10; i++ {
			seedLog(t, store, sub.ID, false, base.Add(time.Duration(i)*time.Minute))
		}

		healthy, err := m.IsHealthy(ctx, sub)
		require.NoError(t, err)
		assert.False(t, healthy)
	})
}

func TestCleanupOldEntries(t *testing.T) {
	store := newTestStore(t)
	sub := seedSubscription(t, store)
	m := NewMonitor(store, 10, 30, zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	seedLog(t, store, sub.ID, true, now.AddDate(0, 0, -40))
	seedLog(t, store, sub.ID, true, now.AddDate(0, 0, -31))
	seedLog(t, store, sub.ID, true, now.AddDate(0, 0, -5))

	removed, err := m.CleanupOldEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// Idempotent: a second run finds nothing to purge.
	removed, err = m.CleanupOldEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	logs, err := store.ListDeliveryLogs(ctx, sub.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCheckAndDisable(t *testing.T) {
	store := newTestStore(t)
	m := NewMonitor(store, 10, 30, zerolog.Nop())
	ctx := context.Background()

	// All failures in the trailing window, counter never tripped.
	dead := seedSubscription(t, store)
	base := time.Now().UTC().Add(-2 * time.Hour)
	for i := 0; i < 10; i++ {
		seedLog(t, store, dead.ID, false, base.Add(time.Duration(i)*time.Minute))
	}

	// A mixed subscription stays up.
	alive := seedSubscription(t, store)
	for i := 0; i < 10; i++ {
		seedLog(t, store, alive.ID, i == 0, base.Add(time.Duration(i)*time.Minute))
	}

	disabled, err := m.CheckAndDisable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, disabled)

	freshDead, err := store.GetSubscription(ctx, dead.ID)
	require.NoError(t, err)
	assert.False(t, freshDead.Active)
	assert.Equal(t, models.AutoDisableReason, freshDead.LastError)

	freshAlive, err := store.GetSubscription(ctx, alive.ID)
	require.NoError(t, err)
	assert.True(t, freshAlive.Active)
}
