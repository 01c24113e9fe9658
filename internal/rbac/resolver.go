package rbac

// Permission names an (action, resource) pair for batch checks.
type Permission struct {
	Action   string
	Resource string
}

// Resolver answers "can role R perform action A on resource B". It is pure
// and in-memory: every lookup runs against the frozen registry, so checks
// never block and never fail with an error. Malformed input or an unfrozen
// registry surfaces as a PERMISSION_CHECK_ERROR decision instead.
type Resolver struct {
	registry *Registry
}

// NewResolver wraps a frozen registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Check resolves a single permission. An ANY-scoped grant wins outright; an
// OWN-scoped grant is provisional and the caller must confirm ownership via
// the Authorizer before honoring it for a specific instance.
func (r *Resolver) Check(role Role, action, resource string) Decision {
	if r == nil || r.registry == nil || !r.registry.Frozen() {
		return denied(role, action, resource, DeniedPermissionCheckError)
	}
	if role == "" || action == "" || resource == "" {
		return denied(role, action, resource, DeniedPermissionCheckError)
	}
	grants, ok := r.registry.EffectiveGrants(role)
	if !ok {
		return denied(role, action, resource, DeniedInsufficientPermissions)
	}
	var own *Grant
	for i := range grants {
		g := grants[i]
		if !g.Matches(action, resource) {
			continue
		}
		if g.Scope == ScopeAny {
			// ANY supersedes OWN when both are inherited.
			return granted(role, action, resource, g)
		}
		if own == nil {
			own = &grants[i]
		}
	}
	if own != nil {
		return granted(role, action, resource, *own)
	}
	return denied(role, action, resource, DeniedInsufficientPermissions)
}

// CheckAny returns the first granted decision, or a NO_PERMISSIONS_GRANTED
// denial when nothing in the list matches. An empty list denies.
func (r *Resolver) CheckAny(role Role, perms []Permission) Decision {
	for _, p := range perms {
		if d := r.Check(role, p.Action, p.Resource); d.Granted {
			return d
		}
	}
	return denied(role, "", "", DeniedNoPermissionsGranted)
}

// CheckAll grants only when every entry is granted, short-circuiting on the
// first denial and returning it unchanged. An empty list grants trivially.
func (r *Resolver) CheckAll(role Role, perms []Permission) Decision {
	last := Decision{Granted: true, Role: role}
	for _, p := range perms {
		d := r.Check(role, p.Action, p.Resource)
		if !d.Granted {
			return d
		}
		last = d
	}
	return last
}

// Registry exposes the underlying hierarchy for level checks.
func (r *Resolver) Registry() *Registry {
	return r.registry
}
