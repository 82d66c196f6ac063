// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boxyhq/dsync/internal/api/handler"
	"github.com/boxyhq/dsync/internal/api/middleware"
	"github.com/boxyhq/dsync/internal/health"
)

// Handlers collects everything RegisterRoutes mounts.
type Handlers struct {
	Health      *health.Handler
	Auth        *handler.AuthHandler
	Directories *handler.DirectoryHandler
	Events      *handler.EventsHandler
	SCIM        *SCIMHandler
	JWTSecret   string
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, h Handlers) {
	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /api/v1/health", h.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", h.Health.ServeReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Auth endpoint (no auth required)
	mux.HandleFunc("POST /api/v1/auth/login", h.Auth.Login)

	// SCIM endpoints authenticate with the per-directory bearer secret,
	// not the admin JWT.
	mux.Handle("/api/scim/v2.0/{directoryId}/{resource}", h.SCIM)
	mux.Handle("/api/scim/v2.0/{directoryId}/{resource}/{id}", h.SCIM)

	// Admin routes require a valid access token.
	protected := middleware.RequireAuth(h.JWTSecret)
	admin := func(fn http.HandlerFunc) http.Handler { return protected(fn) }

	mux.Handle("POST /api/v1/dsync", admin(h.Directories.Create))
	mux.Handle("GET /api/v1/dsync", admin(h.Directories.List))
	mux.Handle("GET /api/v1/dsync/product", admin(h.Directories.FilterBy))
	mux.Handle("GET /api/v1/dsync/events", admin(h.Events.List))
	mux.Handle("DELETE /api/v1/dsync/events", admin(h.Events.Delete))
	mux.Handle("GET /api/v1/dsync/events/{id}", admin(h.Events.Get))
	mux.Handle("GET /api/v1/dsync/groups/{id}/members", admin(h.Directories.GroupMembers))
	mux.Handle("GET /api/v1/dsync/{id}", admin(h.Directories.Get))
	mux.Handle("PATCH /api/v1/dsync/{id}", admin(h.Directories.Update))
	mux.Handle("DELETE /api/v1/dsync/{id}", admin(h.Directories.Delete))

	// Catch-all 404
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
}
