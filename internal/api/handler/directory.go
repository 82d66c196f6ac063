package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/boxyhq/dsync/internal/api/jsonapi"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

const defaultPageSize = 50

// DirectoryHandler serves the directory connection management endpoints.
type DirectoryHandler struct {
	directories *store.Directories
	groups      *store.Groups
	log         *slog.Logger
}

func NewDirectoryHandler(directories *store.Directories, groups *store.Groups, log *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{directories: directories, groups: groups, log: log}
}

type createDirectoryRequest struct {
	Name             string `json:"name"`
	Tenant           string `json:"tenant"`
	Product          string `json:"product"`
	Type             string `json:"type"`
	WebhookURL       string `json:"webhook_url"`
	WebhookSecret    string `json:"webhook_secret"`
	LogWebhookEvents bool   `json:"log_webhook_events"`
}

// Create handles POST /api/v1/dsync.
func (h *DirectoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	dirType := model.DirectoryType(req.Type)
	if req.Type == "" {
		dirType = model.GenericSCIMV2
	}

	dir, err := h.directories.Create(r.Context(), store.CreateParams{
		Name:             req.Name,
		Tenant:           req.Tenant,
		Product:          req.Product,
		Type:             dirType,
		WebhookEndpoint:  req.WebhookURL,
		WebhookSecret:    req.WebhookSecret,
		LogWebhookEvents: req.LogWebhookEvents,
	})
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusCreated, directoryResource(dir))
}

// Get handles GET /api/v1/dsync/{id}.
func (h *DirectoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	dir, err := h.directories.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, directoryResource(dir))
}

// List handles GET /api/v1/dsync. With tenant and product query params it
// returns the directories of that tenant/product pair; otherwise it pages
// through all directories.
func (h *DirectoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tenant, product := q.Get("tenant"), q.Get("product")

	var (
		dirs []model.Directory
		err  error
	)
	if tenant != "" || product != "" {
		if tenant == "" || product == "" {
			jsonapi.RenderError(w, http.StatusBadRequest, "missing_params", "Bad Request", "tenant and product must be provided together")
			return
		}
		dirs, err = h.directories.GetByTenantAndProduct(r.Context(), tenant, product)
	} else {
		offset, limit := pageParams(q.Get("offset"), q.Get("limit"))
		dirs, err = h.directories.GetAll(r.Context(), offset, limit)
	}
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, directoryResources(dirs), nil)
}

// FilterBy handles GET /api/v1/dsync/product. Exactly one of the product
// or provider query params must be set.
func (h *DirectoryHandler) FilterBy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dirs, err := h.directories.FilterBy(r.Context(), q.Get("product"), model.DirectoryType(q.Get("provider")))
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderList(w, http.StatusOK, directoryResources(dirs), nil)
}

type updateDirectoryRequest struct {
	Name             *string `json:"name"`
	LogWebhookEvents *bool   `json:"log_webhook_events"`
	WebhookURL       *string `json:"webhook_url"`
	WebhookSecret    *string `json:"webhook_secret"`
	Deactivated      *bool   `json:"deactivated"`
}

// Update handles PATCH /api/v1/dsync/{id}.
func (h *DirectoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateDirectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}

	params := store.UpdateParams{
		Name:             req.Name,
		LogWebhookEvents: req.LogWebhookEvents,
		Deactivated:      req.Deactivated,
	}
	if req.WebhookURL != nil || req.WebhookSecret != nil {
		dir, err := h.directories.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			renderStoreError(w, h.log, err)
			return
		}
		webhook := dir.Webhook
		if req.WebhookURL != nil {
			webhook.Endpoint = *req.WebhookURL
		}
		if req.WebhookSecret != nil {
			webhook.Secret = *req.WebhookSecret
		}
		params.Webhook = &webhook
	}

	dir, err := h.directories.Update(r.Context(), r.PathValue("id"), params)
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	jsonapi.RenderOne(w, http.StatusOK, directoryResource(dir))
}

// Delete handles DELETE /api/v1/dsync/{id}.
func (h *DirectoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.directories.Delete(r.Context(), r.PathValue("id")); err != nil {
		renderStoreError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GroupMembers handles GET /api/v1/dsync/groups/{id}/members.
func (h *DirectoryHandler) GroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if _, err := h.groups.Get(r.Context(), groupID); err != nil {
		renderStoreError(w, h.log, err)
		return
	}

	offset, limit := pageParams(r.URL.Query().Get("offset"), r.URL.Query().Get("limit"))
	members, err := h.groups.GetGroupMembers(r.Context(), groupID, offset, limit)
	if err != nil {
		renderStoreError(w, h.log, err)
		return
	}

	data := make([]any, 0, len(members))
	for _, m := range members {
		data = append(data, jsonapi.ResourceObject{
			Type:       "group-members",
			ID:         m.ID,
			Attributes: map[string]any{"group_id": m.GroupID, "user_id": m.UserID},
		})
	}
	jsonapi.RenderList(w, http.StatusOK, data, &jsonapi.Pagination{Offset: offset, PageSize: limit})
}

type directoryAttrs struct {
	Name             string `json:"name"`
	Tenant           string `json:"tenant"`
	Product          string `json:"product"`
	Type             string `json:"type"`
	SCIMPath         string `json:"scim_path,omitempty"`
	SCIMEndpoint     string `json:"scim_endpoint,omitempty"`
	SCIMSecret       string `json:"scim_secret,omitempty"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	LogWebhookEvents bool   `json:"log_webhook_events"`
	Deactivated      bool   `json:"deactivated"`
}

func directoryResource(dir *model.Directory) jsonapi.ResourceObject {
	return jsonapi.ResourceObject{
		Type: "directories",
		ID:   dir.ID,
		Attributes: directoryAttrs{
			Name:             dir.Name,
			Tenant:           dir.Tenant,
			Product:          dir.Product,
			Type:             string(dir.Type),
			SCIMPath:         dir.SCIM.Path,
			SCIMEndpoint:     dir.SCIM.Endpoint,
			SCIMSecret:       dir.SCIM.Secret,
			WebhookURL:       dir.Webhook.Endpoint,
			LogWebhookEvents: dir.LogWebhookEvents,
			Deactivated:      dir.Deactivated,
		},
	}
}

func directoryResources(dirs []model.Directory) []any {
	out := make([]any, 0, len(dirs))
	for i := range dirs {
		out = append(out, directoryResource(&dirs[i]))
	}
	return out
}

func pageParams(offsetStr, limitStr string) (offset, limit int) {
	offset, _ = strconv.Atoi(offsetStr)
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(limitStr)
	if limit <= 0 {
		limit = defaultPageSize
	}
	return offset, limit
}

func renderStoreError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonapi.RenderError(w, http.StatusNotFound, "not_found", "Not Found", err.Error())
	case errors.Is(err, store.ErrValidation):
		jsonapi.RenderError(w, http.StatusBadRequest, "validation_error", "Bad Request", err.Error())
	default:
		log.Error("store operation failed", "error", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error", "unexpected error")
	}
}
