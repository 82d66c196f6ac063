package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/boxyhq/dsync/internal/scim"
)

// maxSCIMBodyBytes caps inbound SCIM request bodies.
const maxSCIMBodyBytes = 1 << 20

// SCIMHandler binds the transport-neutral SCIM state machine to HTTP.
// Routes look like /api/scim/v2.0/{directoryId}/Users/{id}.
type SCIMHandler struct {
	handler *scim.Handler
}

func NewSCIMHandler(handler *scim.Handler) *SCIMHandler {
	return &SCIMHandler{handler: handler}
}

func (s *SCIMHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ok := s.buildRequest(r)
	if !ok {
		writeSCIMError(w, http.StatusNotFound, "unknown SCIM resource")
		return
	}

	resp := s.handler.Handle(r.Context(), req)
	w.Header().Set("Content-Type", scim.ContentType)
	w.WriteHeader(resp.Status)
	if resp.Data != nil {
		_ = json.NewEncoder(w).Encode(resp.Data)
	}
}

func (s *SCIMHandler) buildRequest(r *http.Request) (scim.Request, bool) {
	var resource scim.ResourceType
	switch r.PathValue("resource") {
	case "Users":
		resource = scim.ResourceUsers
	case "Groups":
		resource = scim.ResourceGroups
	default:
		return scim.Request{}, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSCIMBodyBytes))
	if err != nil {
		return scim.Request{}, false
	}

	q := r.URL.Query()
	startIndex, _ := strconv.Atoi(q.Get("startIndex"))
	count, _ := strconv.Atoi(q.Get("count"))

	return scim.Request{
		Method:       r.Method,
		DirectoryID:  r.PathValue("directoryId"),
		ResourceType: resource,
		ResourceID:   r.PathValue("id"),
		APISecret:    extractBearer(r),
		Filter:       q.Get("filter"),
		StartIndex:   startIndex,
		Count:        count,
		Body:         body,
	}, true
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func writeSCIMError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", scim.ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(scim.Error{
		Schemas: []string{scim.ErrorSchema},
		Detail:  detail,
		Status:  strconv.Itoa(status),
	})
}
