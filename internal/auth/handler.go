package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/shared"
)

// Recorder is the slice of the audit recorder the handler needs.
type Recorder interface {
	Record(event audit.Event)
}

// Handler exposes the authentication endpoints.
type Handler struct {
	service  *Service
	recorder Recorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the auth handler.
func NewHandler(service *Service, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		recorder: recorder,
		logger:   logger,
		validate: validator.New(),
	}
}

// MountRoutes attaches the auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.Post("/refresh", h.refresh)
	r.Get("/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required")
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.record(r, audit.Event{
			Level:   audit.LevelWarn,
			Action:  audit.ActionLogin,
			Entity:  "User",
			Message: "login failed",
			Meta:    map[string]any{"email": req.Email},
		})
		shared.WriteError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "invalid credentials")
		return
	}

	token, expiresAt, err := h.service.IssueToken(user)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not issue token")
		return
	}

	h.record(r, audit.Event{
		Level:    audit.LevelAudit,
		Action:   audit.ActionLogin,
		Entity:   "User",
		EntityID: user.ID,
		ActorID:  user.ID,
		Message:  "login succeeded",
		Meta:     map[string]any{"role": user.Role},
	})
	shared.WriteJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}
	if token := bearerToken(r); token != "" {
		h.service.Revoke(r.Context(), token)
	}
	h.record(r, audit.Event{
		Level:    audit.LevelAudit,
		Action:   audit.ActionLogout,
		Entity:   "User",
		EntityID: actor.ID,
		ActorID:  actor.ID,
		Message:  "logout",
	})
	w.WriteHeader(http.StatusNoContent)
}

// refresh rotates a still-valid token: the presented one is revoked and a
// fresh one minted from current store state, so a role change takes effect at
// the next refresh rather than only at expiry.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}
	user, err := h.service.Lookup(r.Context(), actor.ID)
	if err != nil || !user.IsActive {
		shared.WriteError(w, http.StatusUnauthorized, "AUTHENTICATION_ERROR", "account unavailable")
		return
	}
	token, expiresAt, err := h.service.IssueToken(user)
	if err != nil {
		h.logger.Error("refresh token", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not issue token")
		return
	}
	if old := bearerToken(r); old != "" {
		h.service.Revoke(r.Context(), old)
	}
	shared.WriteJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: expiresAt})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}
	user, err := h.service.Lookup(r.Context(), actor.ID)
	if err != nil {
		shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "account not found")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}

func (h *Handler) record(r *http.Request, event audit.Event) {
	if h.recorder == nil {
		return
	}
	event.ActorIP = shared.ClientIP(r)
	event.ActorAgent = r.UserAgent()
	h.recorder.Record(event)
}
