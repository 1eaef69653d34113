package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/signing"
)

func testEnvelope() models.Envelope {
	event := &models.Event{
		ID:          "evt_test_1",
		Type:        "contact.created",
		WorkspaceID: "ws_test",
		Data:        []byte(`{"contact_id":"c_1","email":"jo@example.com"}`),
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Source:      "forgecrm",
	}
	return models.NewEnvelope(event)
}

func TestSenderHeadersAndSignature(t *testing.T) {
	t.Parallel()

	const secret = "whsec_sender_test"
	var gotHeaders http.Header
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(5 * time.Second)
	result := sender.Send(context.Background(), srv.URL, secret, testEnvelope())

	require.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, result.Error)

	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, UserAgent, gotHeaders.Get("User-Agent"))
	assert.Equal(t, "contact.created", gotHeaders.Get("X-Webhook-Event"))
	assert.Equal(t, "evt_test_1", gotHeaders.Get("X-Webhook-Delivery"))
	assert.Equal(t, "ws_test", gotHeaders.Get("X-Webhook-Workspace"))
	assert.Equal(t, "2026-08-01T12:00:00Z", gotHeaders.Get("X-Webhook-Timestamp"))

	// The signature must verify against the exact raw body bytes.
	assert.True(t, signing.Verify(secret, gotBody, gotHeaders.Get("X-Webhook-Signature")))

	var env models.Envelope
	require.NoError(t, json.Unmarshal(gotBody, &env))
	assert.Equal(t, "evt_test_1", env.ID)
	assert.Equal(t, "ws_test", env.WorkspaceID)
	assert.Equal(t, models.EnvelopeVersion, env.Version)
	assert.Equal(t, "forgecrm", env.Source)
}

func TestSenderStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		wantSuccess bool
		wantError   string
	}{
		{"200 is success", http.StatusOK, true, ""},
		{"204 is success", http.StatusNoContent, true, ""},
		{"400 is failure", http.StatusBadRequest, false, "HTTP 400"},
		{"404 is failure", http.StatusNotFound, false, "HTTP 404"},
		{"500 is failure", http.StatusInternalServerError, false, "HTTP 500"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewSender(5 * time.Second)
			result := sender.Send(context.Background(), srv.URL, "whsec_x", testEnvelope())

			assert.Equal(t, tt.wantSuccess, result.Success)
			assert.Equal(t, tt.status, result.StatusCode)
			assert.Equal(t, tt.wantError, result.Error)
		})
	}
}

func TestSenderTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	sender := NewSender(100 * time.Millisecond)
	result := sender.Send(context.Background(), srv.URL, "whsec_x", testEnvelope())

	assert.False(t, result.Success)
	assert.Zero(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}

func TestSenderNetworkError(t *testing.T) {
	t.Parallel()

	sender := NewSender(1 * time.Second)
	result := sender.Send(context.Background(), "http://127.0.0.1:1", "whsec_x", testEnvelope())

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
