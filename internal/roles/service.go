package roles

import (
	"context"
	"errors"
	"time"

	"github.com/keystone-api/keystone/internal/cache"
	"github.com/keystone-api/keystone/internal/rbac"
)

// ErrCannotAssign indicates the assigner's hierarchy level does not exceed
// the target role's level.
var ErrCannotAssign = errors.New("roles: assigner level must exceed target level")

// ErrUnknownRole indicates a role outside the configured hierarchy.
var ErrUnknownRole = errors.New("roles: unknown role")

// Assigner is the slice of the users service the role assignment needs.
type Assigner interface {
	AssignRole(ctx context.Context, userID, role string) error
}

// Service answers hierarchy queries and performs guarded role assignment.
// The hierarchy itself is static configuration; the cache only carries the
// rendered views so repeated listings skip re-rendering.
type Service struct {
	registry *rbac.Registry
	users    Assigner
	cache    *cache.Service
	cacheTTL time.Duration
}

// NewService builds the roles service. cacheSvc may be nil.
func NewService(registry *rbac.Registry, users Assigner, cacheSvc *cache.Service, cacheTTL time.Duration) *Service {
	return &Service{registry: registry, users: users, cache: cacheSvc, cacheTTL: cacheTTL}
}

// List returns every role ordered by hierarchy level.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	key := cache.RoleListKey()
	var infos []Info
	load := func(context.Context) (any, error) {
		return s.render(), nil
	}
	if s.cache == nil {
		return s.render(), nil
	}
	if err := s.cache.Fetch(ctx, key, s.cacheTTL, &infos, load); err != nil {
		return s.render(), nil
	}
	return infos, nil
}

// Permissions returns the effective grant set of a role.
func (s *Service) Permissions(role string) ([]GrantView, error) {
	grants, ok := s.registry.EffectiveGrants(rbac.Role(role))
	if !ok {
		return nil, ErrUnknownRole
	}
	views := make([]GrantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, GrantView{
			Action:     g.Action,
			Resource:   g.Resource,
			Scope:      string(g.Scope),
			DeniedAttr: g.DeniedAttributes,
		})
	}
	return views, nil
}

// Level exposes the hierarchy level for a role, 0 for unknown roles.
func (s *Service) Level(role string) int {
	return s.registry.HierarchyLevel(rbac.Role(role))
}

// Assign sets target role on the user iff the assigner outranks the target
// role. SUPER_ADMIN can assign anything below itself; nobody can mint a peer
// or superior.
func (s *Service) Assign(ctx context.Context, assignerRole, userID, targetRole string) error {
	if s.registry.HierarchyLevel(rbac.Role(targetRole)) == 0 {
		return ErrUnknownRole
	}
	if !s.registry.CanAssign(rbac.Role(assignerRole), rbac.Role(targetRole)) {
		return ErrCannotAssign
	}
	return s.users.AssignRole(ctx, userID, targetRole)
}

// Warm refreshes the cached role listing so the first request after a deploy
// does not pay the render cost.
func (s *Service) Warm(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	s.cache.Set(ctx, cache.RoleListKey(), s.render(), s.cacheTTL)
	return nil
}

func (s *Service) render() []Info {
	roles := s.registry.Roles()
	infos := make([]Info, 0, len(roles))
	for _, role := range roles {
		info := Info{Name: string(role), Level: s.registry.HierarchyLevel(role)}
		if parent, ok := s.registry.Parent(role); ok {
			info.Parent = string(parent)
		}
		infos = append(infos, info)
	}
	return infos
}
