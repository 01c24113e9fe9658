package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/shared"
)

func TestIsOwnerProfileAndPassword(t *testing.T) {
	auth := rbac.NewAuthorizer(rbac.RoleSuperAdmin, nil)
	actor := &shared.Actor{ID: "user-1", Role: string(rbac.RoleUser)}

	for _, kind := range []string{"profile", "password"} {
		if !auth.IsOwner(context.Background(), actor, kind, "user-1", rbac.OwnershipContext{}) {
			t.Fatalf("actor must own their own %s", kind)
		}
		if auth.IsOwner(context.Background(), actor, kind, "user-2", rbac.OwnershipContext{}) {
			t.Fatalf("actor must not own another user's %s", kind)
		}
	}
}

func TestIsOwnerContentByAuthor(t *testing.T) {
	auth := rbac.NewAuthorizer(rbac.RoleSuperAdmin, nil)
	actor := &shared.Actor{ID: "user-1", Role: string(rbac.RoleUser)}

	// Identifier match.
	if !auth.IsOwner(context.Background(), actor, "post", "user-1", rbac.OwnershipContext{}) {
		t.Fatalf("resource id equal to actor id should count as ownership")
	}
	// Author match without a lookup trusts the supplied author id.
	if !auth.IsOwner(context.Background(), actor, "post", "post-9", rbac.OwnershipContext{AuthorID: "user-1"}) {
		t.Fatalf("author id match should count as ownership")
	}
	if auth.IsOwner(context.Background(), actor, "post", "post-9", rbac.OwnershipContext{AuthorID: "user-2"}) {
		t.Fatalf("foreign author id must not count as ownership")
	}
}

func TestIsOwnerUnknownKindFailsClosed(t *testing.T) {
	auth := rbac.NewAuthorizer(rbac.RoleSuperAdmin, nil)
	actor := &shared.Actor{ID: "user-1", Role: string(rbac.RoleUser)}

	if auth.IsOwner(context.Background(), actor, "invoice", "user-1", rbac.OwnershipContext{}) {
		t.Fatalf("unknown resource kind must never be owned")
	}
	if auth.IsOwner(context.Background(), nil, "profile", "user-1", rbac.OwnershipContext{}) {
		t.Fatalf("nil actor must never own anything")
	}
}

func TestIsOwnerWithLookup(t *testing.T) {
	lookup := func(ctx context.Context, kind, id string) (string, error) {
		if id == "post-9" {
			return "user-1", nil
		}
		return "", errors.New("store down")
	}
	auth := rbac.NewAuthorizer(rbac.RoleSuperAdmin, lookup)
	actor := &shared.Actor{ID: "user-1", Role: string(rbac.RoleUser)}

	if !auth.IsOwner(context.Background(), actor, "post", "post-9", rbac.OwnershipContext{}) {
		t.Fatalf("lookup-confirmed author should count as ownership")
	}
	// A failing lookup must not fall back to the client-supplied field.
	if auth.IsOwner(context.Background(), actor, "post", "post-broken", rbac.OwnershipContext{AuthorID: "user-1"}) {
		t.Fatalf("lookup error must fail closed")
	}
}

func TestOverride(t *testing.T) {
	auth := rbac.NewAuthorizer(rbac.RoleSuperAdmin, nil)

	if !auth.Override(&shared.Actor{ID: "root", Role: string(rbac.RoleSuperAdmin)}) {
		t.Fatalf("top role must be able to override ownership")
	}
	if auth.Override(&shared.Actor{ID: "a", Role: string(rbac.RoleAdmin)}) {
		t.Fatalf("ADMIN must not override ownership")
	}
	if auth.Override(nil) {
		t.Fatalf("nil actor must not override ownership")
	}
	// IsOwner itself never consults the role.
	root := &shared.Actor{ID: "root", Role: string(rbac.RoleSuperAdmin)}
	if auth.IsOwner(context.Background(), root, "profile", "someone-else", rbac.OwnershipContext{}) {
		t.Fatalf("IsOwner must not honor the override role implicitly")
	}
}
