package scim

import (
	"strings"

	"github.com/boxyhq/dsync/internal/model"
)

// UserAttributes are the normalized fields projected out of a SCIM user
// resource body.
type UserAttributes struct {
	FirstName  string
	LastName   string
	Email      string
	Active     bool
	ExternalID string
	Roles      []string
}

// ExtractUserAttributes maps a SCIM user body onto the normalized fields:
// name.givenName / name.familyName, emails[0].value (falling back to
// userName), active (default true), plus external userId and roles.
func ExtractUserAttributes(body model.JSONMap) UserAttributes {
	attrs := UserAttributes{Active: true}

	if name, ok := body["name"].(map[string]any); ok {
		attrs.FirstName, _ = name["givenName"].(string)
		attrs.LastName, _ = name["familyName"].(string)
	}
	if emails, ok := body["emails"].([]any); ok && len(emails) > 0 {
		if first, ok := emails[0].(map[string]any); ok {
			attrs.Email, _ = first["value"].(string)
		}
	}
	if attrs.Email == "" {
		attrs.Email, _ = body["userName"].(string)
	}
	if active, ok := body["active"].(bool); ok {
		attrs.Active = active
	}
	attrs.ExternalID, _ = body["userId"].(string)
	if roles, ok := body["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				attrs.Roles = append(attrs.Roles, s)
			}
		}
	}
	return attrs
}

// UserPatch is the outcome of parsing one PATCH operation against a user.
// Nil pointers mean "not touched by this operation". Raw carries every
// attribute path the operation mentioned — recognized or not — keyed by
// dotted path, so unknown attributes are preserved rather than dropped.
type UserPatch struct {
	FirstName *string
	LastName  *string
	Email     *string
	Active    *bool
	Raw       map[string]any
}

// userAttributePaths is the fixed table mapping SCIM attribute paths onto
// normalized user fields.
var userAttributePaths = map[string]func(*UserPatch, any){
	"active": func(p *UserPatch, v any) {
		if b, ok := v.(bool); ok {
			p.Active = &b
		}
	},
	"name.givenName": func(p *UserPatch, v any) {
		if s, ok := v.(string); ok {
			p.FirstName = &s
		}
	},
	"name.familyName": func(p *UserPatch, v any) {
		if s, ok := v.(string); ok {
			p.LastName = &s
		}
	},
	`emails[type eq "work"].value`: func(p *UserPatch, v any) {
		if s, ok := v.(string); ok {
			p.Email = &s
		}
	},
}

// ParseUserPatch maps a single PATCH operation — path-based or
// value-object-based — through the attribute-path table. Callers fold
// multiple operations left to right; later operations for the same field
// win.
func ParseUserPatch(op PatchOperation) UserPatch {
	patch := UserPatch{Raw: map[string]any{}}

	apply := func(path string, value any) {
		if set, ok := userAttributePaths[path]; ok {
			set(&patch, value)
		}
		patch.Raw[rawPathFor(path)] = value
	}

	if op.Path != "" {
		apply(op.Path, op.Value)
		return patch
	}
	// Path-less operation: the value object carries the attribute paths
	// as keys, possibly nested ({"name": {"givenName": ...}}).
	obj, ok := op.Value.(map[string]any)
	if !ok {
		return patch
	}
	for key, value := range obj {
		if nested, ok := value.(map[string]any); ok && key == "name" {
			for sub, v := range nested {
				apply("name."+sub, v)
			}
			continue
		}
		apply(key, value)
	}
	return patch
}

// rawPathFor normalizes a SCIM attribute path for raw-body merging: the
// work-email filter path collapses onto the canonical emails entry.
func rawPathFor(path string) string {
	if strings.HasPrefix(path, "emails[") {
		return "emails"
	}
	return path
}

// MergeRaw applies the dotted-path updates of a UserPatch onto a raw
// resource body via deep key-set, creating intermediate objects as needed.
func MergeRaw(raw model.JSONMap, updates map[string]any) {
	for path, value := range updates {
		setDeep(raw, strings.Split(path, "."), value)
	}
}

func setDeep(m map[string]any, keys []string, value any) {
	if len(keys) == 1 {
		if keys[0] == "emails" {
			if s, ok := value.(string); ok {
				m["emails"] = []any{map[string]any{"value": s, "type": "work", "primary": true}}
				return
			}
		}
		m[keys[0]] = value
		return
	}
	child, ok := m[keys[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[keys[0]] = child
	}
	setDeep(child, keys[1:], value)
}

// GroupAction classifies a PATCH operation against a group. Handlers
// switch over this finite set instead of re-inspecting op/path strings.
type GroupAction int

// Group patch actions.
const (
	GroupActionUnknown GroupAction = iota
	GroupActionAddMembers
	GroupActionRemoveMembers
	GroupActionUpdateName
)

// MemberRef identifies one user referenced by a membership operation.
type MemberRef struct {
	Value   string
	Display string
}

// GroupPatch is the tagged result of classifying one group PATCH
// operation.
type GroupPatch struct {
	Action  GroupAction
	Name    string
	Members []MemberRef
}

// memberFilterPrefix matches the single-member removal syntax
// `members[value eq "<id>"]`.
const memberFilterPrefix = `members[value eq "`

// ParseGroupOperation classifies a single PATCH operation into a
// GroupPatch. Both bulk member lists (path "members", array value) and the
// filter-path single-member removal syntax are supported.
func ParseGroupOperation(op PatchOperation) GroupPatch {
	operation := strings.ToLower(op.Op)

	switch {
	case op.Path == "members":
		members := parseMemberList(op.Value)
		if operation == "remove" {
			return GroupPatch{Action: GroupActionRemoveMembers, Members: members}
		}
		return GroupPatch{Action: GroupActionAddMembers, Members: members}

	case strings.HasPrefix(op.Path, memberFilterPrefix):
		rest := strings.TrimPrefix(op.Path, memberFilterPrefix)
		end := strings.Index(rest, `"`)
		if end < 0 {
			return GroupPatch{Action: GroupActionUnknown}
		}
		member := MemberRef{Value: rest[:end]}
		if operation == "remove" {
			return GroupPatch{Action: GroupActionRemoveMembers, Members: []MemberRef{member}}
		}
		return GroupPatch{Action: GroupActionAddMembers, Members: []MemberRef{member}}

	case op.Path == "displayName":
		if name, ok := op.Value.(string); ok {
			return GroupPatch{Action: GroupActionUpdateName, Name: name}
		}

	case op.Path == "":
		if obj, ok := op.Value.(map[string]any); ok {
			if name, ok := obj["displayName"].(string); ok {
				return GroupPatch{Action: GroupActionUpdateName, Name: name}
			}
			if members, ok := obj["members"]; ok {
				list := parseMemberList(members)
				if operation == "remove" {
					return GroupPatch{Action: GroupActionRemoveMembers, Members: list}
				}
				return GroupPatch{Action: GroupActionAddMembers, Members: list}
			}
		}
	}
	return GroupPatch{Action: GroupActionUnknown}
}

func parseMemberList(v any) []MemberRef {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	members := make([]MemberRef, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ref := MemberRef{}
		ref.Value, _ = obj["value"].(string)
		ref.Display, _ = obj["display"].(string)
		if ref.Value != "" {
			members = append(members, ref)
		}
	}
	return members
}
