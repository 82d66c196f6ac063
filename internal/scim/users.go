package scim

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// defaultPageSize bounds unpaginated list requests.
const defaultPageSize = 100

// handleUsers drives the Users protocol state machine: HTTP method crossed
// with whether the resource id resolves to an existing user.
func (h *Handler) handleUsers(ctx context.Context, dir *model.Directory, req Request) Response {
	switch {
	case req.Method == http.MethodPost:
		return h.createUser(ctx, dir, req)
	case req.Method == http.MethodGet && req.ResourceID != "":
		return h.getUser(ctx, dir, req)
	case req.Method == http.MethodGet:
		return h.listUsers(ctx, dir, req)
	case req.Method == http.MethodPut && req.ResourceID != "":
		return h.replaceUser(ctx, dir, req)
	case req.Method == http.MethodPatch && req.ResourceID != "":
		return h.patchUser(ctx, dir, req)
	case req.Method == http.MethodDelete && req.ResourceID != "":
		return h.deleteUser(ctx, dir, req)
	default:
		return errorResponse(http.StatusNotFound, "not found")
	}
}

func (h *Handler) createUser(ctx context.Context, dir *model.Directory, req Request) Response {
	body, err := decodeBody(req.Body)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	attrs := ExtractUserAttributes(body)

	if attrs.Email != "" {
		existing, err := h.users.Search(ctx, attrs.Email, dir.ID)
		if err != nil {
			return storeErrorResponse(err)
		}
		if len(existing) > 0 {
			return errorResponse(http.StatusConflict, "User already exists")
		}
	}

	user, err := h.users.Create(ctx, &model.User{
		DirectoryID: dir.ID,
		FirstName:   attrs.FirstName,
		LastName:    attrs.LastName,
		Email:       attrs.Email,
		Active:      attrs.Active,
		Roles:       attrs.Roles,
		Raw:         body,
	})
	if err != nil {
		return storeErrorResponse(err)
	}

	h.publish(ctx, event.UserCreated, dir, user, nil)
	return Response{Status: http.StatusCreated, Data: user.Raw}
}

func (h *Handler) getUser(ctx context.Context, dir *model.Directory, req Request) Response {
	user, err := h.resolveUser(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	return Response{Status: http.StatusOK, Data: user.Raw}
}

func (h *Handler) listUsers(ctx context.Context, dir *model.Directory, req Request) Response {
	if req.Filter != "" {
		f, err := parseFilter(req.Filter)
		if err != nil {
			return errorResponse(http.StatusBadRequest, "invalid filter: "+err.Error())
		}
		if f.Attribute != "userName" {
			return errorResponse(http.StatusBadRequest, "unsupported filter attribute: "+f.Attribute)
		}
		users, err := h.users.Search(ctx, f.Value, dir.ID)
		if err != nil {
			return storeErrorResponse(err)
		}
		return listResponse(rawUsers(users), len(users), req.StartIndex)
	}

	limit := req.Count
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := req.StartIndex - 1
	if offset < 0 {
		offset = 0
	}
	users, err := h.users.GetAll(ctx, store.GetAllParams{DirectoryID: dir.ID, Offset: offset, Limit: limit})
	if err != nil {
		return storeErrorResponse(err)
	}
	total, err := h.users.Count(ctx, dir.ID)
	if err != nil {
		return storeErrorResponse(err)
	}
	return listResponse(rawUsers(users), int(total), req.StartIndex)
}

func (h *Handler) replaceUser(ctx context.Context, dir *model.Directory, req Request) Response {
	user, err := h.resolveUser(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	body, err := decodeBody(req.Body)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	attrs := ExtractUserAttributes(body)

	user.FirstName = attrs.FirstName
	user.LastName = attrs.LastName
	user.Email = attrs.Email
	user.Active = attrs.Active
	if attrs.Roles != nil {
		user.Roles = attrs.Roles
	}
	user.Raw = body

	// active:false on a full replace means deprovisioning: the user is
	// removed outright and a user.deleted event is emitted.
	if !attrs.Active {
		return h.deprovisionUser(ctx, dir, user)
	}

	updated, err := h.users.Update(ctx, user)
	if err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.UserUpdated, dir, updated, nil)
	return Response{Status: http.StatusOK, Data: updated.Raw}
}

func (h *Handler) patchUser(ctx context.Context, dir *model.Directory, req Request) Response {
	user, err := h.resolveUser(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	var patchReq PatchRequest
	if err := json.Unmarshal(req.Body, &patchReq); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	// Operations fold left to right; later operations for a field win.
	for _, op := range patchReq.Operations {
		patch := ParseUserPatch(op)
		if patch.FirstName != nil {
			user.FirstName = *patch.FirstName
		}
		if patch.LastName != nil {
			user.LastName = *patch.LastName
		}
		if patch.Email != nil {
			user.Email = *patch.Email
		}
		if patch.Active != nil {
			user.Active = *patch.Active
		}
		if user.Raw == nil {
			user.Raw = model.JSONMap{}
		}
		MergeRaw(user.Raw, patch.Raw)
	}

	if !user.Active {
		return h.deprovisionUser(ctx, dir, user)
	}

	updated, err := h.users.Update(ctx, user)
	if err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.UserUpdated, dir, updated, nil)
	return Response{Status: http.StatusOK, Data: updated.Raw}
}

func (h *Handler) deleteUser(ctx context.Context, dir *model.Directory, req Request) Response {
	user, err := h.resolveUser(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	if err := h.users.Delete(ctx, user.ID); err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.UserDeleted, dir, user, nil)
	return Response{Status: http.StatusOK, Data: user.Raw}
}

// deprovisionUser removes the user and emits user.deleted with the raw
// active flag forced to false, so subscribers see the deactivation that
// triggered the removal.
func (h *Handler) deprovisionUser(ctx context.Context, dir *model.Directory, user *model.User) Response {
	if user.Raw == nil {
		user.Raw = model.JSONMap{}
	}
	user.Raw["active"] = false
	user.Active = false

	if err := h.users.Delete(ctx, user.ID); err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.UserDeleted, dir, user, nil)
	return Response{Status: http.StatusOK, Data: user.Raw}
}

// resolveUser fetches the user and enforces directory scoping: a valid id
// belonging to another directory is indistinguishable from a missing one.
func (h *Handler) resolveUser(ctx context.Context, dir *model.Directory, id string) (*model.User, error) {
	user, err := h.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.DirectoryID != dir.ID {
		return nil, store.ErrNotFound
	}
	return user, nil
}

func rawUsers(users []model.User) []any {
	raws := make([]any, len(users))
	for i := range users {
		raws[i] = users[i].Raw
	}
	return raws
}
