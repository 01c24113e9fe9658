package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/shared"
)

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memRecorder) Record(event audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memRecorder) byAction(action string) []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, e := range m.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newMiddleware(t *testing.T, rec *memRecorder) rbac.Middleware {
	t.Helper()
	registry := buildRegistry(t)
	return rbac.Middleware{
		Resolver: rbac.NewResolver(registry),
		Owners:   rbac.NewAuthorizer(registry.TopRole(), nil),
		Recorder: rec,
	}
}

func serveWithActor(mw func(http.Handler) http.Handler, actor *shared.Actor, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Handle("/{id}", mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	r.Handle("/", mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), actor))
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRequireUnauthenticated(t *testing.T) {
	mw := newMiddleware(t, nil)

	rr := serveWithActor(mw.Require(rbac.ActionRead, "user"), nil,
		httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestRequireDenialShape(t *testing.T) {
	rec := &memRecorder{}
	mw := newMiddleware(t, rec)
	actor := &shared.Actor{ID: "u1", Role: string(rbac.RoleUser)}

	rr := serveWithActor(mw.Require(rbac.ActionDelete, "user"), actor,
		httptest.NewRequest(http.MethodDelete, "/", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	var body shared.APIError
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != string(rbac.DeniedInsufficientPermissions) {
		t.Fatalf("code = %q, want INSUFFICIENT_PERMISSIONS", body.Code)
	}
	required, ok := body.Meta["required"].(map[string]any)
	if !ok || required["action"] != rbac.ActionDelete || required["resource"] != "user" {
		t.Fatalf("meta.required = %v, want delete/user", body.Meta["required"])
	}
	if body.Meta["currentRole"] != string(rbac.RoleUser) {
		t.Fatalf("meta.currentRole = %v, want USER", body.Meta["currentRole"])
	}
	denies := rec.byAction(audit.ActionDeny)
	if len(denies) != 1 || denies[0].ActorID != "u1" {
		t.Fatalf("expected one DENY event for u1, got %v", denies)
	}
}

func TestRequireAnyScopedGrantPasses(t *testing.T) {
	mw := newMiddleware(t, nil)
	actor := &shared.Actor{ID: "m1", Role: string(rbac.RoleModerator)}

	rr := serveWithActor(mw.Require(rbac.ActionDelete, "post"), actor,
		httptest.NewRequest(http.MethodDelete, "/post-7", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestRequireOwnScopedGrant(t *testing.T) {
	rec := &memRecorder{}
	mw := newMiddleware(t, rec)
	owner := &shared.Actor{ID: "u1", Role: string(rbac.RoleUser)}
	stranger := &shared.Actor{ID: "u2", Role: string(rbac.RoleUser)}

	// Author match carried in the body.
	req := httptest.NewRequest(http.MethodPut, "/post-7", strings.NewReader(`{"authorId":"u1"}`))
	rr := serveWithActor(mw.Require(rbac.ActionUpdate, "post"), owner, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPut, "/post-7", strings.NewReader(`{"authorId":"u1"}`))
	rr = serveWithActor(mw.Require(rbac.ActionUpdate, "post"), stranger, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("stranger status = %d, want 403", rr.Code)
	}
	var body shared.APIError
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != string(rbac.DeniedNotOwner) {
		t.Fatalf("code = %q, want NOT_OWNER", body.Code)
	}
}

func TestRequireStashesDecision(t *testing.T) {
	mw := newMiddleware(t, nil)
	actor := &shared.Actor{ID: "a1", Role: string(rbac.RoleAdmin)}

	var captured *rbac.Decision
	r := chi.NewRouter()
	r.With(mw.Require(rbac.ActionRead, "user")).Get("/", func(w http.ResponseWriter, r *http.Request) {
		d := rbac.DecisionFromContext(r.Context())
		captured = &d
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(shared.ContextWithActor(context.Background(), actor))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if captured == nil {
		t.Fatalf("decision missing from context")
	}
	if len(captured.AttributeFilter) != 1 || captured.AttributeFilter[0] != "password_hash" {
		t.Fatalf("attribute filter = %v, want [password_hash]", captured.AttributeFilter)
	}
}

func TestRequireOwnershipOverrideIsAudited(t *testing.T) {
	rec := &memRecorder{}
	mw := newMiddleware(t, rec)
	root := &shared.Actor{ID: "root", Role: string(rbac.RoleSuperAdmin)}

	rr := serveWithActor(mw.RequireOwnership("profile"), root,
		httptest.NewRequest(http.MethodDelete, "/someone-else", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	overrides := rec.byAction(audit.ActionAccess)
	if len(overrides) != 1 {
		t.Fatalf("expected exactly one override event, got %d", len(overrides))
	}
	if overrides[0].Meta["override"] != true || overrides[0].EntityID != "someone-else" {
		t.Fatalf("override event = %+v", overrides[0])
	}
}

func TestRequireOwnershipBodySurvivesPeek(t *testing.T) {
	mw := newMiddleware(t, nil)
	actor := &shared.Actor{ID: "u1", Role: string(rbac.RoleUser)}

	var seen string
	r := chi.NewRouter()
	r.With(mw.RequireOwnership("post")).Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		var probe struct {
			AuthorID string `json:"authorId"`
			Title    string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&probe); err != nil {
			t.Errorf("handler decode: %v", err)
		}
		seen = probe.Title
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPut, "/post-7", strings.NewReader(`{"authorId":"u1","title":"hello"}`))
	req = req.WithContext(shared.ContextWithActor(context.Background(), actor))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if seen != "hello" {
		t.Fatalf("handler saw title %q, body was consumed by the ownership peek", seen)
	}
}
