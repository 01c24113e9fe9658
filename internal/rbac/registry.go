package rbac

import (
	"errors"
	"fmt"
	"sort"
)

// ErrFrozen indicates a mutation after Freeze.
var ErrFrozen = errors.New("rbac: registry is frozen")

// Registry is the static role hierarchy: direct grants per role and the
// single-parent inheritance edges between roles. It is built once at startup,
// validated, then frozen; afterwards it is read-only and safe for concurrent
// use without locking.
type Registry struct {
	grants  map[Role][]Grant
	parents map[Role]Role

	frozen    bool
	levels    map[Role]int
	effective map[Role][]Grant
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		grants:  make(map[Role][]Grant),
		parents: make(map[Role]Role),
	}
}

// Grant records a direct (action, resource, scope) rule for the role.
func (r *Registry) Grant(role Role, action, resource string, scope Scope, deniedAttrs ...string) error {
	if r.frozen {
		return ErrFrozen
	}
	if role == "" || action == "" || resource == "" {
		return fmt.Errorf("rbac: grant requires role/action/resource, got (%q,%q,%q)", role, action, resource)
	}
	if scope != ScopeOwn && scope != ScopeAny {
		return fmt.Errorf("rbac: unknown scope %q", scope)
	}
	r.grants[role] = append(r.grants[role], Grant{
		Role:             role,
		Action:           action,
		Resource:         resource,
		Scope:            scope,
		DeniedAttributes: deniedAttrs,
	})
	return nil
}

// Extend declares parent as the single ancestor of role. The parent must
// already be defined, a role may only extend once, and the edge may not close
// a cycle; the hierarchy is a tree, not a DAG.
func (r *Registry) Extend(role, parent Role) error {
	if r.frozen {
		return ErrFrozen
	}
	if role == parent {
		return fmt.Errorf("rbac: role %s cannot extend itself", role)
	}
	if _, ok := r.grants[parent]; !ok {
		if _, ok := r.parents[parent]; !ok {
			return fmt.Errorf("rbac: role %s extends undefined role %s", role, parent)
		}
	}
	if existing, ok := r.parents[role]; ok {
		return fmt.Errorf("rbac: role %s already extends %s", role, existing)
	}
	// Walk up from the proposed parent; finding role again means a cycle.
	for cur, ok := parent, true; ok; cur, ok = r.parents[cur] {
		if cur == role {
			return fmt.Errorf("rbac: extending %s with %s creates a cycle", role, parent)
		}
	}
	r.parents[role] = parent
	return nil
}

// Freeze validates the hierarchy and memoizes levels and effective grant
// sets. The registry refuses to serve lookups before Freeze, and refuses
// mutation after it.
func (r *Registry) Freeze() error {
	if r.frozen {
		return nil
	}
	roles := make(map[Role]struct{}, len(r.grants))
	for role := range r.grants {
		roles[role] = struct{}{}
	}
	for role, parent := range r.parents {
		roles[role] = struct{}{}
		roles[parent] = struct{}{}
	}
	r.levels = make(map[Role]int, len(roles))
	r.effective = make(map[Role][]Grant, len(roles))
	for role := range roles {
		depth, err := r.depth(role)
		if err != nil {
			return err
		}
		r.levels[role] = depth
		r.effective[role] = r.computeEffective(role)
	}
	r.frozen = true
	return nil
}

// Frozen reports whether the registry has been validated and sealed.
func (r *Registry) Frozen() bool {
	return r.frozen
}

func (r *Registry) depth(role Role) (int, error) {
	depth := 1
	seen := map[Role]bool{role: true}
	for {
		parent, ok := r.parents[role]
		if !ok {
			return depth, nil
		}
		if seen[parent] {
			return 0, fmt.Errorf("rbac: inheritance cycle through %s", parent)
		}
		seen[parent] = true
		role = parent
		depth++
	}
}

func (r *Registry) computeEffective(role Role) []Grant {
	var all []Grant
	for cur, ok := role, true; ok; {
		all = append(all, r.grants[cur]...)
		cur, ok = r.parents[cur]
	}
	return all
}

// EffectiveGrants returns the union of the role's own grants and every
// ancestor's grants. The slice is shared; callers must not mutate it.
func (r *Registry) EffectiveGrants(role Role) ([]Grant, bool) {
	if !r.frozen {
		return nil, false
	}
	grants, ok := r.effective[role]
	return grants, ok
}

// HierarchyLevel returns the role's position in the inheritance chain, root
// being 1. Unknown roles report 0.
func (r *Registry) HierarchyLevel(role Role) int {
	if !r.frozen {
		return 0
	}
	return r.levels[role]
}

// CanAssign reports whether assigner may hand out target: its level must
// strictly exceed the target's, and both roles must exist.
func (r *Registry) CanAssign(assigner, target Role) bool {
	a, t := r.HierarchyLevel(assigner), r.HierarchyLevel(target)
	return a > 0 && t > 0 && a > t
}

// Roles lists every defined role ordered by hierarchy level, lowest first.
func (r *Registry) Roles() []Role {
	roles := make([]Role, 0, len(r.levels))
	for role := range r.levels {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		li, lj := r.levels[roles[i]], r.levels[roles[j]]
		if li != lj {
			return li < lj
		}
		return roles[i] < roles[j]
	})
	return roles
}

// Parent returns the role's ancestor, when it has one.
func (r *Registry) Parent(role Role) (Role, bool) {
	parent, ok := r.parents[role]
	return parent, ok
}

// TopRole returns the role with the highest hierarchy level.
func (r *Registry) TopRole() Role {
	var top Role
	best := 0
	for role, level := range r.levels {
		if level > best {
			best, top = level, role
		}
	}
	return top
}
