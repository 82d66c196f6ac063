// Package scim implements the SCIM v2 request pipeline: the protocol types,
// the patch-operation parser, and the Users/Groups handler state machine.
package scim

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/boxyhq/dsync/internal/model"
)

// SCIM schema URIs.
const (
	UserSchema         = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema        = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListResponseSchema = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	PatchOpSchema      = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	ErrorSchema        = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// ContentType is the SCIM media type.
const ContentType = "application/scim+json"

// ResourceType selects the handler a request is dispatched to.
type ResourceType string

// Request resource types.
const (
	ResourceUsers  ResourceType = "users"
	ResourceGroups ResourceType = "groups"
)

// Request is a normalized inbound SCIM call, decoupled from net/http so the
// state machine can be driven directly from tests.
type Request struct {
	Method       string
	DirectoryID  string
	ResourceType ResourceType
	ResourceID   string
	APISecret    string
	Filter       string
	StartIndex   int
	Count        int
	Body         json.RawMessage
}

// Response is what every handler method returns. Status is the HTTP status
// code; Data is the SCIM body (raw resource, list envelope, or error
// envelope) and may be nil for empty 200s.
type Response struct {
	Status int `json:"status"`
	Data   any `json:"data,omitempty"`
}

// Error is a SCIM protocol error envelope.
type Error struct {
	Schemas  []string `json:"schemas"`
	Detail   string   `json:"detail"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
}

// ListResponse is a SCIM list envelope.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// PatchOperation is a single SCIM PATCH operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchRequest is a SCIM PATCH request body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// errorResponse builds a SCIM-error-shaped Response.
func errorResponse(status int, detail string) Response {
	return Response{
		Status: status,
		Data: Error{
			Schemas: []string{ErrorSchema},
			Detail:  detail,
			Status:  strconv.Itoa(status),
		},
	}
}

// listResponse wraps raw resources in the SCIM list envelope.
func listResponse(resources []any, total, startIndex int) Response {
	if startIndex < 1 {
		startIndex = 1
	}
	if resources == nil {
		resources = []any{}
	}
	return Response{
		Status: http.StatusOK,
		Data: ListResponse{
			Schemas:      []string{ListResponseSchema},
			TotalResults: total,
			StartIndex:   startIndex,
			ItemsPerPage: len(resources),
			Resources:    resources,
		},
	}
}

// decodeBody unmarshals a request body into a JSONMap and defensively
// strips any password attribute before further processing.
func decodeBody(body json.RawMessage) (model.JSONMap, error) {
	var m model.JSONMap
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	delete(m, "password")
	return m, nil
}
