package roles

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/shared"
)

// Recorder is the slice of the audit recorder the handler needs.
type Recorder interface {
	Record(event audit.Event)
}

// Handler exposes role hierarchy and assignment endpoints.
type Handler struct {
	service  *Service
	recorder Recorder
	logger   *slog.Logger
}

// NewHandler constructs the roles handler.
func NewHandler(service *Service, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{service: service, recorder: recorder, logger: logger}
}

// MountRoutes attaches role routes.
func (h *Handler) MountRoutes(r chi.Router, mw rbac.Middleware) {
	r.With(mw.Require(rbac.ActionRead, "role")).Get("/", h.list)
	r.With(mw.Require(rbac.ActionRead, "role")).Get("/{role}/permissions", h.permissions)
	r.With(mw.Require(rbac.ActionUpdate, "user")).Post("/assign/{id}", h.assign)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	infos, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list roles", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not list roles")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"roles": infos})
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	views, err := h.service.Permissions(role)
	if err != nil {
		shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "unknown role")
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"role": role, "permissions": views})
}

type assignRequest struct {
	Role string `json:"role"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "role is required")
		return
	}
	userID := chi.URLParam(r, "id")
	if err := h.service.Assign(r.Context(), actor.Role, userID, req.Role); err != nil {
		switch {
		case errors.Is(err, ErrUnknownRole):
			shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown role")
		case errors.Is(err, ErrCannotAssign):
			shared.WriteError(w, http.StatusForbidden, "INSUFFICIENT_PERMISSIONS", "cannot assign a role at or above your own level")
		case errors.Is(err, shared.ErrNotFound):
			shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
		default:
			h.logger.Error("assign role", slog.Any("error", err))
			shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not assign role")
		}
		return
	}
	if h.recorder != nil {
		h.recorder.Record(audit.Event{
			Level:      audit.LevelAudit,
			Action:     audit.ActionUpdate,
			Entity:     "Role",
			EntityID:   userID,
			ActorID:    actor.ID,
			ActorIP:    shared.ClientIP(r),
			ActorAgent: r.UserAgent(),
			Message:    "role assigned",
			Meta:       map[string]any{"role": req.Role, "assignerRole": actor.Role},
		})
	}
	w.WriteHeader(http.StatusNoContent)
}
