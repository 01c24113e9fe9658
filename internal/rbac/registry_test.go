package rbac_test

import (
	"testing"

	"github.com/keystone-api/keystone/internal/rbac"
)

func buildRegistry(t *testing.T) *rbac.Registry {
	t.Helper()
	r, err := rbac.DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return r
}

func TestHierarchyLevelsStrictlyIncrease(t *testing.T) {
	r := buildRegistry(t)

	chain := []rbac.Role{rbac.RoleUser, rbac.RoleModerator, rbac.RoleAdmin, rbac.RoleSuperAdmin}
	prev := 0
	for _, role := range chain {
		level := r.HierarchyLevel(role)
		if level <= prev {
			t.Fatalf("level of %s = %d, want > %d", role, level, prev)
		}
		prev = level
	}
	if r.HierarchyLevel("GHOST") != 0 {
		t.Fatalf("unknown role should report level 0")
	}
}

func TestEffectiveGrantsIncludeAncestors(t *testing.T) {
	r := buildRegistry(t)

	own, ok := r.EffectiveGrants(rbac.RoleUser)
	if !ok {
		t.Fatalf("USER grants missing")
	}
	mod, ok := r.EffectiveGrants(rbac.RoleModerator)
	if !ok {
		t.Fatalf("MODERATOR grants missing")
	}
	// Inheritance is additive: a child can only gain grants.
	if len(mod) <= len(own) {
		t.Fatalf("MODERATOR has %d grants, USER has %d, want strictly more", len(mod), len(own))
	}
	found := false
	for _, g := range mod {
		if g.Role == rbac.RoleUser && g.Action == rbac.ActionUpdate && g.Resource == "password" {
			found = true
		}
	}
	if !found {
		t.Fatalf("MODERATOR should inherit USER's update:password grant")
	}
}

func TestRegistryFrozenRejectsMutation(t *testing.T) {
	r := buildRegistry(t)

	if err := r.Grant(rbac.RoleUser, rbac.ActionRead, "thing", rbac.ScopeOwn); err != rbac.ErrFrozen {
		t.Fatalf("Grant after Freeze = %v, want ErrFrozen", err)
	}
	if err := r.Extend("NEW", rbac.RoleUser); err != rbac.ErrFrozen {
		t.Fatalf("Extend after Freeze = %v, want ErrFrozen", err)
	}
}

func TestExtendRejectsCycleAndReparenting(t *testing.T) {
	r := rbac.NewRegistry()
	if err := r.Grant("A", rbac.ActionRead, "x", rbac.ScopeAny); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := r.Extend("B", "A"); err != nil {
		t.Fatalf("extend B->A: %v", err)
	}
	if err := r.Extend("A", "B"); err == nil {
		t.Fatalf("cycle A->B->A should be rejected")
	}
	if err := r.Extend("B", "A"); err == nil {
		t.Fatalf("second parent for B should be rejected")
	}
	if err := r.Extend("C", "MISSING"); err == nil {
		t.Fatalf("extending an undefined parent should be rejected")
	}
}

func TestEffectiveGrantsBeforeFreeze(t *testing.T) {
	r := rbac.NewRegistry()
	if err := r.Grant("A", rbac.ActionRead, "x", rbac.ScopeAny); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, ok := r.EffectiveGrants("A"); ok {
		t.Fatalf("EffectiveGrants must refuse before Freeze")
	}
	if r.HierarchyLevel("A") != 0 {
		t.Fatalf("HierarchyLevel must report 0 before Freeze")
	}
}

func TestCanAssign(t *testing.T) {
	r := buildRegistry(t)

	cases := []struct {
		assigner, target rbac.Role
		want             bool
	}{
		{rbac.RoleSuperAdmin, rbac.RoleAdmin, true},
		{rbac.RoleSuperAdmin, rbac.RoleUser, true},
		{rbac.RoleAdmin, rbac.RoleModerator, true},
		{rbac.RoleAdmin, rbac.RoleAdmin, false},
		{rbac.RoleAdmin, rbac.RoleSuperAdmin, false},
		{rbac.RoleUser, rbac.RoleUser, false},
		{rbac.RoleSuperAdmin, "GHOST", false},
		{"GHOST", rbac.RoleUser, false},
	}
	for _, tc := range cases {
		if got := r.CanAssign(tc.assigner, tc.target); got != tc.want {
			t.Errorf("CanAssign(%s, %s) = %v, want %v", tc.assigner, tc.target, got, tc.want)
		}
	}
}

func TestRolesOrderedByLevel(t *testing.T) {
	r := buildRegistry(t)

	roles := r.Roles()
	want := []rbac.Role{rbac.RoleUser, rbac.RoleModerator, rbac.RoleAdmin, rbac.RoleSuperAdmin}
	if len(roles) != len(want) {
		t.Fatalf("Roles() = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("Roles()[%d] = %s, want %s", i, roles[i], want[i])
		}
	}
	if top := r.TopRole(); top != rbac.RoleSuperAdmin {
		t.Fatalf("TopRole() = %s, want SUPER_ADMIN", top)
	}
}
