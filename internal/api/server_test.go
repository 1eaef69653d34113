package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecrm/hookd/internal/audit"
	"github.com/forgecrm/hookd/internal/config"
	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/health"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/replay"
	"github.com/forgecrm/hookd/internal/storage"
)

type testEnv struct {
	server *Server
	store  storage.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	cfg := &config.Config{
		Environment: "development",
		Delivery:    config.DeliveryConfig{Source: "forgecrm"},
	}

	sender := delivery.NewSender(time.Second)
	coord := delivery.NewCoordinator(sender, 3, delivery.DefaultRetrySchedule, zerolog.Nop())
	coord.SetSleep(func(context.Context, time.Duration) {})
	monitor := health.NewMonitor(store, 10, 30, zerolog.Nop())
	dispatcher := delivery.NewDispatcher(store, coord, sender, monitor, zerolog.Nop())
	auditLog := audit.NewLogger(store, zerolog.Nop())
	replayer := replay.NewEngine(store, sender, auditLog, 30, zerolog.Nop())

	return &testEnv{
		server: NewServer(cfg, store, dispatcher, sender, replayer, auditLog, zerolog.Nop()),
		store:  store,
	}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createWorkspace(t *testing.T, name string) *models.Workspace {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/workspaces", "", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ws models.Workspace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	return &ws
}

func (e *testEnv) createWebhook(t *testing.T, apiKey, url string, patterns []string) (*models.Subscription, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/webhooks", apiKey, map[string]interface{}{
		"url":         url,
		"event_types": patterns,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Webhook models.Subscription `json:"webhook"`
		Secret  string              `json:"secret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp.Webhook, resp.Secret
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/webhooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/webhooks", "wk_bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateWorkspaceReturnsAPIKey(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")
	assert.NotEmpty(t, ws.ID)
	assert.Contains(t, ws.APIKey, "wk_")
}

func TestCreateWebhookValidation(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing url", map[string]interface{}{"event_types": []string{"*"}}},
		{"bad scheme", map[string]interface{}{"url": "ftp://example.com", "event_types": []string{"*"}}},
		{"no event types", map[string]interface{}{"url": "https://example.com/hook", "event_types": []string{}}},
		{"unknown pattern", map[string]interface{}{"url": "https://example.com/hook", "event_types": []string{"billing.charged"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/webhooks", ws.APIKey, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateWebhookReturnsSecretOnce(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")

	sub, secret := env.createWebhook(t, ws.APIKey, "https://example.com/hook", []string{"contact.*"})
	assert.Contains(t, secret, "whsec_")
	assert.True(t, sub.Active)

	// Fetching the webhook later never exposes the secret.
	rec := env.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID, ws.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), secret)
}

func TestWebhookOwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	owner := env.createWorkspace(t, "owner")
	intruder := env.createWorkspace(t, "intruder")

	sub, _ := env.createWebhook(t, owner.APIKey, "https://example.com/hook", []string{"*"})

	rec := env.do(t, http.MethodGet, "/api/v1/webhooks/"+sub.ID, intruder.APIKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign webhooks look like they don't exist")

	rec = env.do(t, http.MethodDelete, "/api/v1/webhooks/"+sub.ID, intruder.APIKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestEventValidation(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")

	rec := env.do(t, http.MethodPost, "/api/v1/events", ws.APIKey, map[string]interface{}{
		"type": "billing.charged",
		"data": map[string]string{"x": "y"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/events", ws.APIKey, map[string]interface{}{
		"type": "contact.created",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "data is required")
}

func TestIngestEventDelivers(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")

	var calls int32
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	sub, _ := env.createWebhook(t, ws.APIKey, receiver.URL, []string{"contact.created"})

	rec := env.do(t, http.MethodPost, "/api/v1/events", ws.APIKey, map[string]interface{}{
		"type": "contact.created",
		"data": map[string]string{"contact_id": "c_1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["event_id"])

	// Dispatch is asynchronous; wait for the ledger row to land.
	require.Eventually(t, func() bool {
		logs, err := env.store.ListDeliveryLogs(context.Background(), sub.ID, 10, 0)
		return err == nil && len(logs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRotateSecretEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")
	sub, original := env.createWebhook(t, ws.APIKey, "https://example.com/hook", []string{"*"})

	rec := env.do(t, http.MethodPost, "/api/v1/webhooks/"+sub.ID+"/rotate-secret", ws.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["secret"], "whsec_")
	assert.NotEqual(t, original, resp["secret"])

	active, err := env.store.GetActiveSecret(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, resp["secret"], active.Secret)

	secrets, err := env.store.ListSecrets(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, secrets, 2)
}

func TestReplayEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace(t, "acme")

	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer receiver.Close()

	sub, _ := env.createWebhook(t, ws.APIKey, receiver.URL, []string{"*"})

	entry := &models.DeliveryLog{
		ID:             models.NewID("log"),
		SubscriptionID: sub.ID,
		EventID:        models.NewID("evt"),
		EventType:      "contact.created",
		Payload:        []byte(`{"contact_id":"c_1"}`),
		Success:        false,
		StatusCode:     500,
		Attempts:       3,
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, env.store.CreateDeliveryLog(context.Background(), entry))

	rec := env.do(t, http.MethodGet, "/api/v1/logs/"+entry.ID+"/can-replay", ws.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pre map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pre))
	assert.Equal(t, true, pre["can_replay"])

	rec = env.do(t, http.MethodPost, "/api/v1/logs/"+entry.ID+"/replay", ws.APIKey, map[string]string{
		"replayed_by": "ops@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result replay.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.NewLogID)

	rec = env.do(t, http.MethodGet, "/api/v1/logs/"+entry.ID+"/chain", ws.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chain []models.DeliveryLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	require.Len(t, chain, 2)
	assert.Equal(t, entry.ID, chain[0].ID)
}
