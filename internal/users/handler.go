package users

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/shared"
)

// Recorder is the slice of the audit recorder the handler needs.
type Recorder interface {
	Record(event audit.Event)
}

// Handler exposes user management endpoints. Authorization is mounted around
// these routes by the router; the handler assumes the check already ran and
// only consumes the decision's attribute filter for redaction.
type Handler struct {
	service  *Service
	recorder Recorder
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the users handler.
func NewHandler(service *Service, recorder Recorder, logger *slog.Logger) *Handler {
	return &Handler{service: service, recorder: recorder, logger: logger, validate: validator.New()}
}

// MountRoutes attaches user routes to an already-authorized subrouter.
func (h *Handler) MountRoutes(r chi.Router, mw rbac.Middleware) {
	r.With(mw.Require(rbac.ActionRead, "user")).Get("/", h.list)
	r.With(mw.Require(rbac.ActionCreate, "user")).Post("/", h.create)
	r.With(mw.Require(rbac.ActionRead, "user")).Get("/{id}", h.get)
	r.With(mw.Require(rbac.ActionUpdate, "user")).Put("/{id}", h.update)
	r.With(mw.Require(rbac.ActionDelete, "user")).Delete("/{id}", h.delete)
	r.With(mw.Require(rbac.ActionUpdate, "profile")).Put("/{id}/profile", h.updateProfile)
	r.With(mw.Require(rbac.ActionUpdate, "password")).Put("/{id}/password", h.changePassword)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilters{
		Search: q.Get("search"),
		Role:   q.Get("role"),
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("limit"))
	if raw := q.Get("active"); raw != "" {
		active := raw == "true"
		f.Active = &active
	}

	page, err := h.service.List(r.Context(), f)
	if err != nil {
		h.logger.Error("list users", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not list users")
		return
	}
	decision := rbac.DecisionFromContext(r.Context())
	for i := range page.Users {
		page.Users[i] = page.Users[i].Redact(decision.AttributeFilter)
	}
	shared.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		h.logger.Error("get user", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not load user")
		return
	}
	decision := rbac.DecisionFromContext(r.Context())
	shared.WriteJSON(w, http.StatusOK, user.Redact(decision.AttributeFilter))
}

type createRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Role     string `json:"role" validate:"omitempty,oneof=USER MODERATOR ADMIN SUPER_ADMIN"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user payload")
		return
	}
	user, err := h.service.Create(r.Context(), CreateParams(req))
	if err != nil {
		if errors.Is(err, shared.ErrEmailTaken) {
			shared.WriteError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
			return
		}
		h.logger.Error("create user", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not create user")
		return
	}
	h.record(r, audit.ActionCreate, user.ID, map[string]any{"email": user.Email, "role": user.Role})
	shared.WriteJSON(w, http.StatusCreated, user)
}

type updateRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	Name     *string `json:"name" validate:"omitempty,min=2,max=50"`
	IsActive *bool   `json:"isActive"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.applyUpdate(w, r, "user")
}

// updateProfile is the self-service variant gated by the OWN-scoped profile
// grant; the ownership check already ran in the middleware.
func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	h.applyUpdate(w, r, "profile")
}

func (h *Handler) applyUpdate(w http.ResponseWriter, r *http.Request, entity string) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid update payload")
		return
	}
	id := chi.URLParam(r, "id")
	user, err := h.service.Update(r.Context(), id, UpdateParams{Email: req.Email, Name: req.Name, IsActive: req.IsActive})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		h.logger.Error("update user", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not update user")
		return
	}
	h.record(r, audit.ActionUpdate, id, map[string]any{"entity": entity})
	shared.WriteJSON(w, http.StatusOK, user)
}

type passwordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=128"`
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "password must be 8-128 characters")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.service.ChangePassword(r.Context(), id, req.Password); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		h.logger.Error("change password", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not change password")
		return
	}
	h.record(r, audit.ActionUpdate, id, map[string]any{"entity": "password"})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			shared.WriteError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
			return
		}
		h.logger.Error("delete user", slog.Any("error", err))
		shared.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not delete user")
		return
	}
	h.record(r, audit.ActionDelete, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) record(r *http.Request, action, entityID string, meta map[string]any) {
	if h.recorder == nil {
		return
	}
	event := audit.Event{
		Level:    audit.LevelAudit,
		Action:   action,
		Entity:   "User",
		EntityID: entityID,
		Message:  action + " on User",
		Meta:     meta,
	}
	if actor := shared.ActorFromContext(r.Context()); actor != nil {
		event.ActorID = actor.ID
	}
	event.ActorIP = shared.ClientIP(r)
	event.ActorAgent = r.UserAgent()
	h.recorder.Record(event)
}
