package handler

import (
	"log/slog"
	"net/http"

	"github.com/boxyhq/dsync/internal/api/jsonapi"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// EventsHandler serves the webhook event log endpoints.
type EventsHandler struct {
	logs        *store.WebhookLogs
	directories *store.Directories
	log         *slog.Logger
}

func NewEventsHandler(logs *store.WebhookLogs, directories *store.Directories, log *slog.Logger) *EventsHandler {
	return &EventsHandler{logs: logs, directories: directories, log: log}
}

// List handles GET /api/v1/dsync/events?directoryId=...
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	dirID := r.URL.Query().Get("directoryId")
	if dirID == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_params", "Bad Request", "directoryId query parameter is required")
		return
	}
	if _, err := h.directories.Get(r.Context(), dirID); err != nil {
		renderStoreError(w, h.log, err)
		return
	}

	offset, limit := pageParams(r.URL.Query().Get("offset"), r.URL.Query().Get("limit"))
	logs, err := h.logs.GetAll(r.Context(), store.GetAllParams{DirectoryID: dirID, Offset: offset, Limit: limit})
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}

	data := make([]any, 0, len(logs))
	for i := range logs {
		data = append(data, eventLogResource(&logs[i]))
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{Offset: offset, PageSize: limit})
}

// Get handles GET /api/v1/dsync/events/{id}.
func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.logs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, eventLogResource(entry))
}

// Delete handles DELETE /api/v1/dsync/events?directoryId=... and clears the
// directory's webhook event log.
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	dirID := r.URL.Query().Get("directoryId")
	if dirID == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_params", "Bad Request", "directoryId query parameter is required")
		return
	}
	if _, err := h.directories.Get(r.Context(), dirID); err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	if err := h.logs.DeleteAll(r.Context(), dirID); err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func eventLogResource(entry *model.WebhookEventLog) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "webhook-events",
		ID:   entry.ID,
		Attributes: map[string]any{
			"directory_id": entry.DirectoryID,
			"webhook_url":  entry.WebhookEndpoint,
			"status_code":  entry.StatusCode,
			"delivered":    entry.Delivered,
			"payload":      entry.Payload,
			"created_at":   entry.CreatedAt,
		},
	}
}
