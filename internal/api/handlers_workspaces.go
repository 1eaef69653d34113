package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgecrm/hookd/internal/models"
	"github.com/forgecrm/hookd/internal/storage"
)

type WorkspaceHandler struct {
	store storage.Storage
}

func NewWorkspaceHandler(store storage.Storage) *WorkspaceHandler {
	return &WorkspaceHandler{store: store}
}

type createWorkspaceRequest struct {
	Name string `json:"name"`
}

func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now().UTC()
	ws := &models.Workspace{
		ID:        models.NewID("ws"),
		Name:      req.Name,
		APIKey:    models.NewAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateWorkspace(r.Context(), ws); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workspace")
		return
	}

	writeJSON(w, http.StatusCreated, ws)
}

func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.store.ListWorkspaces(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list workspaces")
		return
	}
	if workspaces == nil {
		workspaces = []models.Workspace{}
	}
	writeJSON(w, http.StatusOK, workspaces)
}

func (h *WorkspaceHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ws, err := h.store.GetWorkspace(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get workspace")
		return
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	newKey := models.NewAPIKey()
	if err := h.store.UpdateWorkspaceAPIKey(r.Context(), id, newKey); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate api key")
		return
	}

	ws.APIKey = newKey
	writeJSON(w, http.StatusOK, ws)
}
