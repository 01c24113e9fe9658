package users_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/keystone-api/keystone/internal/cache"
	platformcache "github.com/keystone-api/keystone/internal/platform/cache"
	"github.com/keystone-api/keystone/internal/shared"
	"github.com/keystone-api/keystone/internal/users"
)

type memRepo struct {
	mu        sync.Mutex
	byID      map[string]users.User
	listCalls int
	getCalls  int
}

func newMemRepo() *memRepo {
	return &memRepo{byID: make(map[string]users.User)}
}

func (m *memRepo) List(ctx context.Context, f users.ListFilters, offset, limit int) ([]users.User, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var matched []users.User
	for _, u := range m.byID {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		matched = append(matched, u)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (m *memRepo) Get(ctx context.Context, id string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	u, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &u, nil
}

func (m *memRepo) Create(ctx context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return shared.ErrEmailTaken
		}
	}
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = *u
	return nil
}

func (m *memRepo) Update(ctx context.Context, u *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.ID]; !ok {
		return shared.ErrNotFound
	}
	m.byID[u.ID] = *u
	return nil
}

func (m *memRepo) UpdateRole(ctx context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.Role = role
	m.byID[id] = u
	return nil
}

func (m *memRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

func (m *memRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return shared.ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func newUserService(t *testing.T) (*users.Service, *memRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cacheSvc := cache.NewService(platformcache.NewClientFromRedis(rdb, nil), nil, nil)
	repo := newMemRepo()
	return users.NewService(repo, cacheSvc, time.Minute, time.Minute), repo
}

func TestCreateAndGetCached(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, users.CreateParams{
		Email:    " Alice@Example.COM ",
		Name:     "Alice",
		Password: "hunter2222",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", created.Email)
	}
	if created.Role != "USER" {
		t.Fatalf("default role = %q, want USER", created.Role)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("hunter2222")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	// First read hits the store, second is served from the cache.
	if _, err := svc.Get(ctx, created.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	before := repo.getCalls
	if _, err := svc.Get(ctx, created.ID); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if repo.getCalls != before {
		t.Fatalf("second get must not reach the store")
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Password: "password1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Password: "password2"})
	if !errors.Is(err, shared.ErrEmailTaken) {
		t.Fatalf("duplicate create = %v, want ErrEmailTaken", err)
	}
}

func TestListCachesAndInvalidates(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Password: "password1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	filters := users.ListFilters{Page: 1, PageSize: 10}
	page, err := svc.List(ctx, filters)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
	before := repo.listCalls
	if _, err := svc.List(ctx, filters); err != nil {
		t.Fatalf("cached list: %v", err)
	}
	if repo.listCalls != before {
		t.Fatalf("second list must be served from cache")
	}

	// A write invalidates the listing family; the next list recomputes.
	if _, err := svc.Create(ctx, users.CreateParams{Email: "b@b.c", Password: "password1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	page, err = svc.List(ctx, filters)
	if err != nil {
		t.Fatalf("list after write: %v", err)
	}
	if repo.listCalls != before+1 {
		t.Fatalf("list after write must reach the store")
	}
	if page.Total != 2 {
		t.Fatalf("total after write = %d, want 2", page.Total)
	}
}

func TestUpdateInvalidatesItem(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Name: "Old", Password: "password1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); err != nil {
		t.Fatalf("warm get: %v", err)
	}

	name := "New"
	if _, err := svc.Update(ctx, created.ID, users.UpdateParams{Name: &name}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Name != "New" {
		t.Fatalf("stale name %q served after update", got.Name)
	}
}

func TestChangePasswordRules(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Password: "password1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.ChangePassword(ctx, created.ID, "short"); err == nil {
		t.Fatalf("short password must be rejected")
	}
	if err := svc.ChangePassword(ctx, created.ID, "longenough"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	stored, _ := repo.Get(ctx, created.ID)
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("longenough")); err != nil {
		t.Fatalf("new password not stored: %v", err)
	}
}

func TestAuthorLookup(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, users.CreateParams{Email: "a@b.c", Password: "password1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	author, err := svc.AuthorLookup(ctx, "profile", created.ID)
	if err != nil || author != created.ID {
		t.Fatalf("profile lookup = %q, %v", author, err)
	}
	if _, err := svc.AuthorLookup(ctx, "post", "p1"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("content kinds must report not-found, got %v", err)
	}
	if _, err := svc.AuthorLookup(ctx, "profile", "ghost"); !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("missing user must report not-found, got %v", err)
	}
}

func TestRedact(t *testing.T) {
	u := users.User{ID: "u1", Email: "a@b.c", Name: "Alice"}
	red := u.Redact([]string{"email"})
	if red.Email != "" {
		t.Fatalf("email must be cleared")
	}
	if red.Name != "Alice" {
		t.Fatalf("unlisted fields must survive redaction")
	}
	if u.Email == "" {
		t.Fatalf("redaction must not mutate the original")
	}
}
