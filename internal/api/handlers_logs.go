package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/replay"
	"github.com/forgecrm/hookd/internal/storage"
)

type LogHandler struct {
	store    storage.Storage
	replayer *replay.Engine
}

func NewLogHandler(store storage.Storage, replayer *replay.Engine) *LogHandler {
	return &LogHandler{store: store, replayer: replayer}
}

// getOwned loads a delivery log and checks its subscription belongs to
// the caller's workspace.
func (h *LogHandler) getOwned(w http.ResponseWriter, r *http.Request) *models.DeliveryLog {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}
	id := chi.URLParam(r, "id")
	entry, err := h.store.GetDeliveryLog(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery log")
		return nil
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "delivery log not found")
		return nil
	}
	sub, err := h.store.GetSubscription(r.Context(), entry.SubscriptionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery log")
		return nil
	}
	if sub == nil || sub.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "delivery log not found")
		return nil
	}
	return entry
}

func (h *LogHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry := h.getOwned(w, r)
	if entry == nil {
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *LogHandler) ListBySubscription(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subID := chi.URLParam(r, "id")
	sub, err := h.store.GetSubscription(r.Context(), subID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get webhook")
		return
	}
	if sub == nil || sub.WorkspaceID != ws.ID {
		writeError(w, http.StatusNotFound, "webhook not found")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	logs, err := h.store.ListDeliveryLogs(r.Context(), subID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *LogHandler) Chain(w http.ResponseWriter, r *http.Request) {
	entry := h.getOwned(w, r)
	if entry == nil {
		return
	}

	chain, err := h.replayer.Chain(r.Context(), entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve replay chain")
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (h *LogHandler) CanReplay(w http.ResponseWriter, r *http.Request) {
	entry := h.getOwned(w, r)
	if entry == nil {
		return
	}

	ok, reason, err := h.replayer.CanReplay(r.Context(), entry.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check replay preconditions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"can_replay": ok,
		"reason":     reason,
	})
}

type replayRequest struct {
	ReplayedBy    string          `json:"replayed_by"`
	CustomPayload json.RawMessage `json:"custom_payload,omitempty"`
}

func (h *LogHandler) Replay(w http.ResponseWriter, r *http.Request) {
	entry := h.getOwned(w, r)
	if entry == nil {
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReplayedBy == "" {
		writeError(w, http.StatusBadRequest, "replayed_by is required")
		return
	}

	result, err := h.replayer.Replay(r.Context(), entry.ID, req.ReplayedBy, req.CustomPayload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bulkReplayRequest struct {
	LogIDs       []string `json:"log_ids"`
	ReplayedBy   string   `json:"replayed_by"`
	SkipFailures bool     `json:"skip_failures"`
}

func (h *LogHandler) BulkReplay(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req bulkReplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.LogIDs) == 0 {
		writeError(w, http.StatusBadRequest, "log_ids is required")
		return
	}
	if req.ReplayedBy == "" {
		writeError(w, http.StatusBadRequest, "replayed_by is required")
		return
	}

	result, err := h.replayer.BulkReplay(r.Context(), req.LogIDs, req.ReplayedBy, req.SkipFailures)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "bulk replay failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
