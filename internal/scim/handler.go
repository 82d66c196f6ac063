package scim

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// Handler is the top-level SCIM dispatcher. It resolves the target
// directory, enforces activation and secret checks, and routes the request
// to the Users or Groups state machine. Store errors never escape: every
// path ends in a Response.
type Handler struct {
	directories *store.Directories
	users       *store.Users
	groups      *store.Groups
	bus         *event.Bus
	log         *slog.Logger
}

// NewHandler wires the SCIM dispatcher.
func NewHandler(directories *store.Directories, users *store.Users, groups *store.Groups, bus *event.Bus, log *slog.Logger) *Handler {
	return &Handler{
		directories: directories,
		users:       users,
		groups:      groups,
		bus:         bus,
		log:         log,
	}
}

// Handle processes one SCIM request end to end.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	dir, err := h.directories.Get(ctx, req.DirectoryID)
	if err != nil {
		return storeErrorResponse(err)
	}

	// Deactivated connections answer 200 with an empty body instead of an
	// error so identity providers do not retry-storm a disabled directory.
	if !store.IsConnectionActive(dir) {
		return Response{Status: http.StatusOK}
	}

	if req.APISecret != dir.SCIM.Secret {
		return errorResponse(http.StatusUnauthorized, "Unauthorized")
	}

	switch req.ResourceType {
	case ResourceUsers:
		return h.handleUsers(ctx, dir, req)
	case ResourceGroups:
		return h.handleGroups(ctx, dir, req)
	default:
		return errorResponse(http.StatusNotFound, "unknown resource type")
	}
}

// storeErrorResponse maps a store error onto a SCIM-error-shaped Response.
func storeErrorResponse(err error) Response {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorResponse(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		return errorResponse(http.StatusBadRequest, err.Error())
	default:
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
}

// publish emits a domain event for a completed mutation. Delivery is fully
// decoupled from the SCIM response: subscribers queue or send the webhook,
// and their failures never fail the originating request.
func (h *Handler) publish(ctx context.Context, action event.Type, dir *model.Directory, user *model.User, group *model.Group) {
	h.bus.Publish(ctx, event.Payload(action, dir, user, group))
}
