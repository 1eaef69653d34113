package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/forgecrm/hookd/internal/delivery"
	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

const maxPayloadSize = 256 * 1024 // 256KB

type EventHandler struct {
	store      storage.Storage
	dispatcher *delivery.Dispatcher
	source     string
}

func NewEventHandler(store storage.Storage, dispatcher *delivery.Dispatcher, source string) *EventHandler {
	return &EventHandler{store: store, dispatcher: dispatcher, source: source}
}

type ingestEventRequest struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	Source string          `json:"source"`
}

// Ingest accepts a committed domain fact and dispatches it
// fire-and-forget. Delivery failures never propagate back to the
// domain operation that produced the event.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ws := WorkspaceFromContext(r.Context())
	if ws == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if !models.IsValidEventType(req.Type) {
		writeError(w, http.StatusBadRequest, "unknown event type: "+req.Type)
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	source := req.Source
	if source == "" {
		source = h.source
	}
	event := models.NewEvent(req.Type, ws.ID, req.Data, source)

	// Detached context: dispatch outlives the ingesting request.
	go h.dispatcher.Dispatch(context.Background(), ws.ID, event)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event_id": event.ID,
	})
}
