package rbac

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/shared"
)

// Recorder is the slice of the audit recorder the middleware needs.
type Recorder interface {
	Record(event audit.Event)
}

// Middleware wires permission and ownership checks into HTTP handlers. Every
// deny, and every ownership override, produces an audit event; the response
// is written without waiting for the event to persist.
type Middleware struct {
	Resolver *Resolver
	Owners   *Authorizer
	Recorder Recorder
	Logger   *slog.Logger
}

// Require gates the route on a single permission. ANY-scoped grants pass
// outright; OWN-scoped grants additionally confirm ownership of the instance
// addressed by the {id} URL parameter.
func (m Middleware) Require(action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.requireActor(w, r)
			if !ok {
				return
			}
			decision := m.Resolver.Check(Role(actor.Role), action, resource)
			if !decision.Granted {
				m.deny(w, r, actor, decision)
				return
			}
			if decision.Provisional() && !m.confirmOwnership(w, r, actor, decision, resource) {
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithDecision(r.Context(), decision)))
		})
	}
}

// RequireAny gates the route on at least one of the permissions.
func (m Middleware) RequireAny(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.requireActor(w, r)
			if !ok {
				return
			}
			decision := m.Resolver.CheckAny(Role(actor.Role), perms)
			if !decision.Granted {
				m.deny(w, r, actor, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAll gates the route on every one of the permissions.
func (m Middleware) RequireAll(perms ...Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.requireActor(w, r)
			if !ok {
				return
			}
			decision := m.Resolver.CheckAll(Role(actor.Role), perms)
			if !decision.Granted {
				m.deny(w, r, actor, decision)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership gates the route on instance ownership alone, independent
// of role grants. Top-role actors pass through the explicit override branch,
// which is audited.
func (m Middleware) RequireOwnership(resourceKind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := m.requireActor(w, r)
			if !ok {
				return
			}
			resourceID := chi.URLParam(r, "id")
			if m.Owners.Override(actor) {
				m.auditOverride(r, actor, resourceKind, resourceID)
				next.ServeHTTP(w, r)
				return
			}
			octx := OwnershipContext{AuthorID: peekAuthorID(r)}
			if !m.Owners.IsOwner(r.Context(), actor, resourceKind, resourceID, octx) {
				m.deny(w, r, actor, denied(Role(actor.Role), "", resourceKind, DeniedNotOwner))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) confirmOwnership(w http.ResponseWriter, r *http.Request, actor *shared.Actor, decision Decision, resourceKind string) bool {
	resourceID := chi.URLParam(r, "id")
	if m.Owners.Override(actor) {
		m.auditOverride(r, actor, resourceKind, resourceID)
		return true
	}
	octx := OwnershipContext{AuthorID: peekAuthorID(r)}
	if m.Owners.IsOwner(r.Context(), actor, resourceKind, resourceID, octx) {
		return true
	}
	d := denied(decision.Role, decision.Action, decision.Resource, DeniedNotOwner)
	m.deny(w, r, actor, d)
	return false
}

func (m Middleware) requireActor(w http.ResponseWriter, r *http.Request) (*shared.Actor, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		shared.WriteError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "authentication required")
		return nil, false
	}
	return actor, true
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, actor *shared.Actor, decision Decision) {
	if m.Recorder != nil {
		m.Recorder.Record(audit.Event{
			Level:      audit.LevelWarn,
			Action:     audit.ActionDeny,
			Entity:     decision.Resource,
			ActorID:    actor.ID,
			ActorIP:    shared.ClientIP(r),
			ActorAgent: r.UserAgent(),
			Message:    decision.Message(),
			Meta: map[string]any{
				"reason":   string(decision.Reason),
				"action":   decision.Action,
				"resource": decision.Resource,
				"role":     actor.Role,
				"path":     r.URL.Path,
			},
		})
	}
	status := http.StatusForbidden
	if decision.Reason == DeniedPermissionCheckError {
		status = http.StatusInternalServerError
	}
	shared.WriteJSON(w, status, shared.APIError{
		Error: decision.Message(),
		Code:  string(decision.Reason),
		Meta: map[string]any{
			"required":    map[string]string{"action": decision.Action, "resource": decision.Resource},
			"currentRole": actor.Role,
		},
	})
}

func (m Middleware) auditOverride(r *http.Request, actor *shared.Actor, resourceKind, resourceID string) {
	if m.Recorder == nil {
		return
	}
	m.Recorder.Record(audit.Event{
		Level:      audit.LevelAudit,
		Action:     audit.ActionAccess,
		Entity:     resourceKind,
		EntityID:   resourceID,
		ActorID:    actor.ID,
		ActorIP:    shared.ClientIP(r),
		ActorAgent: r.UserAgent(),
		Message:    "ownership override by " + actor.Role,
		Meta:       map[string]any{"override": true, "role": actor.Role},
	})
}

// peekAuthorID reads the request body far enough to extract an authorId field
// and restores the body for the handler. Only JSON bodies are inspected.
func peekAuthorID(r *http.Request) string {
	if r.Body == nil || r.Method == http.MethodGet {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var probe struct {
		AuthorID string `json:"authorId"`
	}
	_ = json.Unmarshal(data, &probe)
	return probe.AuthorID
}
