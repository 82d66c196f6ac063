package scim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/model"
	"github.com/boxyhq/dsync/internal/store"
)

// handleGroups drives the Groups protocol state machine.
func (h *Handler) handleGroups(ctx context.Context, dir *model.Directory, req Request) Response {
	switch {
	case req.Method == http.MethodPost:
		return h.createGroup(ctx, dir, req)
	case req.Method == http.MethodGet && req.ResourceID != "":
		return h.getGroup(ctx, dir, req)
	case req.Method == http.MethodGet:
		return h.listGroups(ctx, dir, req)
	case req.Method == http.MethodPut && req.ResourceID != "":
		return h.replaceGroup(ctx, dir, req)
	case req.Method == http.MethodPatch && req.ResourceID != "":
		return h.patchGroup(ctx, dir, req)
	case req.Method == http.MethodDelete && req.ResourceID != "":
		return h.deleteGroup(ctx, dir, req)
	default:
		return errorResponse(http.StatusNotFound, "not found")
	}
}

func (h *Handler) createGroup(ctx context.Context, dir *model.Directory, req Request) Response {
	body, err := decodeBody(req.Body)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}
	name, _ := body["displayName"].(string)
	if name == "" {
		return errorResponse(http.StatusBadRequest, "displayName is required")
	}

	existing, err := h.groups.Search(ctx, name, dir.ID)
	if err != nil {
		return storeErrorResponse(err)
	}
	if len(existing) > 0 {
		return errorResponse(http.StatusConflict, "Group already exists")
	}

	if _, ok := body["members"]; !ok {
		body["members"] = []any{}
	}
	group, err := h.groups.Create(ctx, &model.Group{
		DirectoryID: dir.ID,
		Name:        name,
		Raw:         body,
	})
	if err != nil {
		return storeErrorResponse(err)
	}

	h.publish(ctx, event.GroupCreated, dir, nil, group)
	return Response{Status: http.StatusCreated, Data: group.Raw}
}

func (h *Handler) getGroup(ctx context.Context, dir *model.Directory, req Request) Response {
	group, err := h.resolveGroup(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	if err := h.refreshMembers(ctx, group); err != nil {
		return storeErrorResponse(err)
	}
	return Response{Status: http.StatusOK, Data: group.Raw}
}

func (h *Handler) listGroups(ctx context.Context, dir *model.Directory, req Request) Response {
	if req.Filter != "" {
		f, err := parseFilter(req.Filter)
		if err != nil {
			return errorResponse(http.StatusBadRequest, "invalid filter: "+err.Error())
		}
		if f.Attribute != "displayName" {
			return errorResponse(http.StatusBadRequest, "unsupported filter attribute: "+f.Attribute)
		}
		groups, err := h.groups.Search(ctx, f.Value, dir.ID)
		if err != nil {
			return storeErrorResponse(err)
		}
		return listResponse(rawGroups(groups), len(groups), req.StartIndex)
	}

	limit := req.Count
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := req.StartIndex - 1
	if offset < 0 {
		offset = 0
	}
	groups, err := h.groups.GetAll(ctx, store.GetAllParams{DirectoryID: dir.ID, Offset: offset, Limit: limit})
	if err != nil {
		return storeErrorResponse(err)
	}
	total, err := h.groups.Count(ctx, dir.ID)
	if err != nil {
		return storeErrorResponse(err)
	}
	return listResponse(rawGroups(groups), int(total), req.StartIndex)
}

// replaceGroup accepts a full group body: the display name is replaced and
// the members list, when present, is reconciled against the membership
// store, emitting one event per changed member.
func (h *Handler) replaceGroup(ctx context.Context, dir *model.Directory, req Request) Response {
	group, err := h.resolveGroup(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	body, err := decodeBody(req.Body)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	if name, ok := body["displayName"].(string); ok && name != "" {
		group.Name = name
	}
	group.Raw = body

	if rawMembers, ok := body["members"]; ok {
		desired := parseMemberList(rawMembers)
		if err := h.reconcileMembers(ctx, dir, group, desired); err != nil {
			return storeErrorResponse(err)
		}
	}
	if err := h.refreshMembers(ctx, group); err != nil {
		return storeErrorResponse(err)
	}

	updated, err := h.groups.Update(ctx, group)
	if err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.GroupUpdated, dir, nil, updated)
	return Response{Status: http.StatusOK, Data: updated.Raw}
}

func (h *Handler) patchGroup(ctx context.Context, dir *model.Directory, req Request) Response {
	group, err := h.resolveGroup(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	var patchReq PatchRequest
	if err := json.Unmarshal(req.Body, &patchReq); err != nil {
		return errorResponse(http.StatusBadRequest, "invalid request body")
	}

	// Membership operations apply sequentially, not atomically: a failure
	// mid-request leaves earlier operations in place.
	for _, op := range patchReq.Operations {
		patch := ParseGroupOperation(op)
		switch patch.Action {
		case GroupActionUpdateName:
			group.Name = patch.Name
			if group.Raw == nil {
				group.Raw = model.JSONMap{}
			}
			group.Raw["displayName"] = patch.Name
			updated, err := h.groups.Update(ctx, group)
			if err != nil {
				return storeErrorResponse(err)
			}
			h.publish(ctx, event.GroupUpdated, dir, nil, updated)

		case GroupActionAddMembers:
			for _, member := range patch.Members {
				if err := h.addGroupMember(ctx, dir, group, member.Value); err != nil {
					return storeErrorResponse(err)
				}
			}

		case GroupActionRemoveMembers:
			for _, member := range patch.Members {
				if err := h.removeGroupMember(ctx, dir, group, member.Value); err != nil {
					return storeErrorResponse(err)
				}
			}

		case GroupActionUnknown:
			// SCIM clients send provider-specific operations; ignore them.
		}
	}

	if err := h.refreshMembers(ctx, group); err != nil {
		return storeErrorResponse(err)
	}
	updated, err := h.groups.Update(ctx, group)
	if err != nil {
		return storeErrorResponse(err)
	}
	return Response{Status: http.StatusOK, Data: updated.Raw}
}

func (h *Handler) deleteGroup(ctx context.Context, dir *model.Directory, req Request) Response {
	group, err := h.resolveGroup(ctx, dir, req.ResourceID)
	if err != nil {
		return storeErrorResponse(err)
	}
	if err := h.groups.Delete(ctx, group.ID); err != nil {
		return storeErrorResponse(err)
	}
	h.publish(ctx, event.GroupDeleted, dir, nil, group)
	return Response{Status: http.StatusOK, Data: group.Raw}
}

// addGroupMember records membership and emits group.user_added for newly
// added, resolvable users. A member id that does not resolve to a user is
// non-fatal: identity providers routinely reference ids we never saw.
func (h *Handler) addGroupMember(ctx context.Context, dir *model.Directory, group *model.Group, userID string) error {
	already, err := h.groups.IsUserInGroup(ctx, group.ID, userID)
	if err != nil {
		return err
	}
	if err := h.groups.AddUserToGroup(ctx, group.ID, userID); err != nil {
		return err
	}
	if already {
		return nil
	}
	user, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	h.publish(ctx, event.GroupUserAdded, dir, user, group)
	return nil
}

// removeGroupMember removes membership and emits group.user_removed.
// Removing a non-member is a no-op, not an error.
func (h *Handler) removeGroupMember(ctx context.Context, dir *model.Directory, group *model.Group, userID string) error {
	member, err := h.groups.IsUserInGroup(ctx, group.ID, userID)
	if err != nil {
		return err
	}
	if !member {
		return nil
	}
	if err := h.groups.RemoveUserFromGroup(ctx, group.ID, userID); err != nil {
		return err
	}
	user, err := h.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	h.publish(ctx, event.GroupUserRemoved, dir, user, group)
	return nil
}

// reconcileMembers diffs the desired member list against the membership
// store and applies the adds and removes.
func (h *Handler) reconcileMembers(ctx context.Context, dir *model.Directory, group *model.Group, desired []MemberRef) error {
	current, err := h.groups.GetGroupMembers(ctx, group.ID, 0, 0)
	if err != nil {
		return err
	}
	currentSet := make(map[string]bool, len(current))
	for _, m := range current {
		currentSet[m.UserID] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, m := range desired {
		desiredSet[m.Value] = true
		if !currentSet[m.Value] {
			if err := h.addGroupMember(ctx, dir, group, m.Value); err != nil {
				return err
			}
		}
	}
	for _, m := range current {
		if !desiredSet[m.UserID] {
			if err := h.removeGroupMember(ctx, dir, group, m.UserID); err != nil {
				return err
			}
		}
	}
	return nil
}

// refreshMembers rebuilds raw["members"] from the membership store, the
// single source of truth for group membership.
func (h *Handler) refreshMembers(ctx context.Context, group *model.Group) error {
	members, err := h.groups.GetGroupMembers(ctx, group.ID, 0, 0)
	if err != nil {
		return err
	}
	list := make([]any, 0, len(members))
	for _, m := range members {
		list = append(list, map[string]any{"value": m.UserID})
	}
	if group.Raw == nil {
		group.Raw = model.JSONMap{}
	}
	group.Raw["members"] = list
	return nil
}

// resolveGroup fetches the group and enforces directory scoping.
func (h *Handler) resolveGroup(ctx context.Context, dir *model.Directory, id string) (*model.Group, error) {
	group, err := h.groups.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if group.DirectoryID != dir.ID {
		return nil, store.ErrNotFound
	}
	return group, nil
}

func rawGroups(groups []model.Group) []any {
	raws := make([]any, len(groups))
	for i := range groups {
		raws[i] = groups[i].Raw
	}
	return raws
}
