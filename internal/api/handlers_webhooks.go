package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgecrm/hookd/internal/audit"
	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

// secretRotationGrace keeps a retired secret verifiable long enough
// for deliveries signed with it to drain.
const secretRotationGrace = 24 * time.Hour

type WebhookHandler struct {
	store      storage.Storage
	sender     *delivery.Sender
	dispatcher *delivery.Dispatcher
	audit      *audit.Logger
	production bool
}

func NewWebhookHandler(store storage.Storage, sender *delivery.Sender, dispatcher *delivery.Dispatcher,
	auditLog *audit.Logger, production bool) *WebhookHandler {
	return &WebhookHandler{
		store:      store,
		sender:     sender,
		dispatcher: dispatcher,
		audit:      auditLog,
		production: production,
	}
}

type createWebhookRequest struct {
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Description string   `json:"description"`
	Verify      bool     `json:"verify"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := delivery.ValidateURL(req.URL, h.production); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.EventTypes) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event type is required")
		return
	}
	for _, p := range req.EventTypes {
		if !models.IsValidPattern(p) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type pattern: %s", p))
			return
		}
	}

	secretValue := models.NewSecret()
	if req.Verify {
		if err := h.sender.VerifyEndpoint(r.Context(), req.URL, secretValue); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:          models.NewID("sub"),
		WorkspaceID: ws.ID,
		URL:         req.URL,
		EventTypes:  req.EventTypes,
		Description: req.Description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	secret := &models.SigningSecret{
		ID:             models.NewID("sec"),
		SubscriptionID: sub.ID,
		Secret:         secretValue,
		Active:         true,
		CreatedAt:      now,
	}
	if err := h.store.CreateSecret(r.Context(), secret); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create signing secret")
		return
	}

	h.audit.Record(ws.ID, "api", "webhook.created", "subscription", sub.ID,
		map[string]interface{}{"url": sub.URL, "event_types": sub.EventTypes})

	// The secret value is returned once, at creation time.
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": sub,
		"secret":  secretValue,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subs, err := h.store.ListSubscriptions(r.Context(), ws.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}
	if subs == nil {
		subs = []models.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// getOwned loads a subscription and checks it belongs to the caller's
// workspace. Writes the error response itself on failure.
func (h *WebhookHandler) getOwned(w http.ResponseWriter, r *http.Request) *models.Subscription {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil
	}
	if sub == nil || sub.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return nil
	}
	return sub
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type updateWebhookRequest struct {
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Description string   `json:"description"`
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}

	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		if err := delivery.ValidateURL(req.URL, h.production); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		sub.URL = req.URL
	}
	if req.EventTypes != nil {
		if len(req.EventTypes) == 0 {
			writeError(w, http.StatusBadRequest, "at least one event type is required")
			return
		}
		for _, p := range req.EventTypes {
			if !models.IsValidPattern(p) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type pattern: %s", p))
				return
			}
		}
		sub.EventTypes = req.EventTypes
	}
	sub.Description = req.Description

	if err := h.store.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), sub.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}

	h.audit.Record(sub.WorkspaceID, "api", "webhook.deleted", "subscription", sub.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}

	newActive := !sub.Active
	if err := h.store.SetSubscriptionActive(r.Context(), sub.ID, newActive, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to toggle webhook")
		return
	}

	sub.Active = newActive
	writeJSON(w, http.StatusOK, sub)
}

func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}

	now := time.Now().UTC()
	if err := h.store.RetireActiveSecrets(r.Context(), sub.ID, now.Add(secretRotationGrace)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retire current secret")
		return
	}

	secretValue := models.NewSecret()
	secret := &models.SigningSecret{
		ID:             models.NewID("sec"),
		SubscriptionID: sub.ID,
		Secret:         secretValue,
		Active:         true,
		CreatedAt:      now,
	}
	if err := h.store.CreateSecret(r.Context(), secret); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create signing secret")
		return
	}

	h.audit.Record(sub.WorkspaceID, "api", "webhook.secret_rotated", "subscription", sub.ID, nil)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"secret": secretValue,
	})
}

func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub := h.getOwned(w, r)
	if sub == nil {
		return
	}

	result := h.dispatcher.SendTest(r.Context(), sub)
	writeJSON(w, http.StatusOK, result)
}
