package rbac

import "fmt"

// DefaultRegistry builds and freezes the application grant table. The
// definitions are static configuration: any error here is a startup failure,
// the process must refuse to run with an incomplete hierarchy.
func DefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	type rule struct {
		role     Role
		action   string
		resource string
		scope    Scope
		denied   []string
	}

	rules := []rule{
		// USER: own profile, password and own content.
		{RoleUser, ActionRead, "profile", ScopeOwn, []string{"password_hash"}},
		{RoleUser, ActionUpdate, "profile", ScopeOwn, nil},
		{RoleUser, ActionDelete, "profile", ScopeOwn, nil},
		{RoleUser, ActionUpdate, "password", ScopeOwn, nil},
		{RoleUser, ActionCreate, "post", ScopeOwn, nil},
		{RoleUser, ActionRead, "post", ScopeOwn, nil},
		{RoleUser, ActionUpdate, "post", ScopeOwn, nil},
		{RoleUser, ActionDelete, "post", ScopeOwn, nil},
		{RoleUser, ActionCreate, "comment", ScopeOwn, nil},
		{RoleUser, ActionRead, "comment", ScopeOwn, nil},
		{RoleUser, ActionUpdate, "comment", ScopeOwn, nil},
		{RoleUser, ActionDelete, "comment", ScopeOwn, nil},

		// MODERATOR: content moderation, reports, basic audit access.
		{RoleModerator, ActionRead, "post", ScopeAny, nil},
		{RoleModerator, ActionUpdate, "post", ScopeAny, nil},
		{RoleModerator, ActionDelete, "post", ScopeAny, nil},
		{RoleModerator, ActionRead, "comment", ScopeAny, nil},
		{RoleModerator, ActionUpdate, "comment", ScopeAny, nil},
		{RoleModerator, ActionDelete, "comment", ScopeAny, nil},
		{RoleModerator, ActionCreate, "report", ScopeOwn, nil},
		{RoleModerator, ActionRead, "report", ScopeAny, nil},
		{RoleModerator, ActionUpdate, "report", ScopeAny, nil},
		{RoleModerator, ActionRead, "audit", ScopeAny, nil},

		// ADMIN: user management, role and settings administration.
		{RoleAdmin, ActionCreate, "user", ScopeAny, nil},
		{RoleAdmin, ActionRead, "user", ScopeAny, []string{"password_hash"}},
		{RoleAdmin, ActionUpdate, "user", ScopeAny, nil},
		{RoleAdmin, ActionDelete, "user", ScopeAny, nil},
		{RoleAdmin, ActionRead, "role", ScopeAny, nil},
		{RoleAdmin, ActionUpdate, "role", ScopeAny, nil},
		{RoleAdmin, ActionRead, "settings", ScopeAny, nil},
		{RoleAdmin, ActionUpdate, "settings", ScopeAny, nil},
		{RoleAdmin, ActionRead, "audit", ScopeAny, nil},
		{RoleAdmin, ActionCreate, "audit", ScopeAny, nil},

		// SUPER_ADMIN: wildcard plus exclusive role lifecycle and system
		// configuration.
		{RoleSuperAdmin, ActionCreate, ResourceAll, ScopeAny, nil},
		{RoleSuperAdmin, ActionRead, ResourceAll, ScopeAny, nil},
		{RoleSuperAdmin, ActionUpdate, ResourceAll, ScopeAny, nil},
		{RoleSuperAdmin, ActionDelete, ResourceAll, ScopeAny, nil},
		{RoleSuperAdmin, ActionCreate, "role", ScopeAny, nil},
		{RoleSuperAdmin, ActionUpdate, "role", ScopeAny, nil},
		{RoleSuperAdmin, ActionDelete, "role", ScopeAny, nil},
		{RoleSuperAdmin, ActionUpdate, "system", ScopeAny, nil},
	}

	for _, rl := range rules {
		if err := r.Grant(rl.role, rl.action, rl.resource, rl.scope, rl.denied...); err != nil {
			return nil, fmt.Errorf("rbac: default grants: %w", err)
		}
	}

	extensions := []struct{ role, parent Role }{
		{RoleModerator, RoleUser},
		{RoleAdmin, RoleModerator},
		{RoleSuperAdmin, RoleAdmin},
	}
	for _, e := range extensions {
		if err := r.Extend(e.role, e.parent); err != nil {
			return nil, fmt.Errorf("rbac: default hierarchy: %w", err)
		}
	}

	if err := r.Freeze(); err != nil {
		return nil, fmt.Errorf("rbac: default hierarchy: %w", err)
	}
	return r, nil
}
