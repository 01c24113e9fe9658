package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/keystone-api/keystone/internal/cache"
	"github.com/keystone-api/keystone/internal/rbac"
	"github.com/keystone-api/keystone/internal/shared"
)

// Service handles user management. Reads go through the cache; every write
// invalidates the user item and listing key families before returning, so a
// follow-up read recomputes from the store.
type Service struct {
	repo    RepositoryPort
	cache   *cache.Service
	itemTTL time.Duration
	listTTL time.Duration
	group   singleflight.Group
}

// NewService builds a Service instance. cacheSvc may be nil.
func NewService(repo RepositoryPort, cacheSvc *cache.Service, itemTTL, listTTL time.Duration) *Service {
	return &Service{repo: repo, cache: cacheSvc, itemTTL: itemTTL, listTTL: listTTL}
}

// List returns one page of users. Concurrent requests for the same page
// collapse into a single store query via singleflight.
func (s *Service) List(ctx context.Context, f ListFilters) (Page, error) {
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	pageNo := f.Page
	if pageNo <= 0 {
		pageNo = 1
	}
	offset := (pageNo - 1) * pageSize

	key := cache.UserListKey(pageNo, pageSize, filterMap(f))
	var page Page
	if s.cache != nil && s.cache.GetJSON(ctx, key, &page) {
		return page, nil
	}
	value, err, _ := s.group.Do(key, func() (any, error) {
		users, total, err := s.repo.List(ctx, f, offset, pageSize)
		if err != nil {
			return Page{}, err
		}
		if users == nil {
			users = []User{}
		}
		return Page{Users: users, Total: total, Page: pageNo, Limit: pageSize}, nil
	})
	if err != nil {
		return Page{}, err
	}
	page = value.(Page)
	if s.cache != nil {
		s.cache.Set(ctx, key, page, s.listTTL)
	}
	return page, nil
}

// Get fetches one user, read-through cached.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	key := cache.UserKey(id)
	var u User
	if s.cache != nil && s.cache.GetJSON(ctx, key, &u) && u.ID != "" {
		return &u, nil
	}
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, key, user, s.itemTTL)
	}
	return user, nil
}

// CreateParams are the inputs for Create.
type CreateParams struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// Create registers a new user with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, p CreateParams) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" || p.Password == "" {
		return nil, errors.New("users: email and password required")
	}
	role := p.Role
	if role == "" {
		role = string(rbac.RoleUser)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(p.Name),
		Role:         role,
		IsActive:     true,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.ID)
	return user, nil
}

// UpdateParams are the mutable profile fields. Nil means "leave unchanged".
type UpdateParams struct {
	Email    *string
	Name     *string
	IsActive *bool
}

// Update modifies a user profile and invalidates its caches.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*p.Email))
	}
	if p.Name != nil {
		user.Name = strings.TrimSpace(*p.Name)
	}
	if p.IsActive != nil {
		user.IsActive = *p.IsActive
	}
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return user, nil
}

// ChangePassword replaces the stored hash after hashing the new secret.
func (s *Service) ChangePassword(ctx context.Context, id, newPassword string) error {
	if len(newPassword) < 8 {
		return errors.New("users: password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, string(hash)); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// AssignRole sets the user's role. The hierarchy-level check belongs to the
// roles service; this is the storage half.
func (s *Service) AssignRole(ctx context.Context, id, role string) error {
	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Delete removes a user and its cached views.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// AuthorLookup adapts the users store for ownership verification: a profile
// or password resource is authored by the user it belongs to. Content kinds
// are not stored by this service and report not-found.
func (s *Service) AuthorLookup(ctx context.Context, resourceKind, resourceID string) (string, error) {
	switch resourceKind {
	case "profile", "password":
		user, err := s.repo.Get(ctx, resourceID)
		if err != nil {
			return "", err
		}
		return user.ID, nil
	default:
		return "", shared.ErrNotFound
	}
}

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	s.cache.Delete(ctx, cache.UserKey(id))
	s.cache.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindUser))
	s.cache.DeleteByPattern(ctx, cache.InvalidationPattern(cache.KindUserList))
}

func filterMap(f ListFilters) map[string]any {
	m := make(map[string]any)
	if f.Search != "" {
		m["search"] = f.Search
	}
	if f.Role != "" {
		m["role"] = f.Role
	}
	if f.Active != nil {
		m["active"] = *f.Active
	}
	return m
}
