// Package handler contains the admin API HTTP handlers.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/boxyhq/dsync/internal/api/jsonapi"
	"github.com/boxyhq/dsync/internal/auth"
	"github.com/boxyhq/dsync/internal/store"
)

// AuthHandler serves admin login.
type AuthHandler struct {
	admins    *store.Admins
	jwtSecret string
	accessTTL time.Duration
	log       *slog.Logger
}

func NewAuthHandler(admins *store.Admins, jwtSecret string, accessTTL time.Duration, log *slog.Logger) *AuthHandler {
	return &AuthHandler{admins: admins, jwtSecret: jwtSecret, accessTTL: accessTTL, log: log}
}

type loginRequest struct {
	Email    string
	Password string
}

// UnmarshalJSON decodes credentials without tagging the password field,
// so it never round-trips through struct tags that could be marshalled.
func (l *loginRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	l.Email = raw.Email
	l.Password = raw.Password
	return nil
}

type tokenAttrs struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.RenderError(w, http.StatusBadRequest, "invalid_body", "Bad Request", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		jsonapi.RenderError(w, http.StatusBadRequest, "missing_credentials", "Bad Request", "email and password are required")
		return
	}

	acct, err := h.admins.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("admin lookup failed", "error", err)
		}
		jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_credentials", "Unauthorized", "invalid email or password")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)) != nil {
		jsonapi.RenderError(w, http.StatusUnauthorized, "invalid_credentials", "Unauthorized", "invalid email or password")
		return
	}

	token, err := auth.IssueAccessToken(acct.ID, acct.Email, h.jwtSecret, h.accessTTL)
	if err != nil {
		h.log.Error("token issuance failed", "error", err)
		jsonapi.RenderError(w, http.StatusInternalServerError, "token_error", "Internal Server Error", "could not issue access token")
		return
	}

	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "tokens",
		ID:   acct.ID,
		Attributes: tokenAttrs{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int(h.accessTTL.Seconds()),
		},
	})
}
