package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/keystone-api/keystone/internal/cache"
	"github.com/keystone-api/keystone/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenService
	cache  *cache.Service
}

// NewService constructs a new Service. cacheSvc backs the best-effort token
// denylist and may be nil.
func NewService(repo Repository, tokens *TokenService, cacheSvc *cache.Service) *Service {
	return &Service{repo: repo, tokens: tokens, cache: cacheSvc}
}

// Authenticate validates email/password credentials. Every failure mode maps
// to the same error so responses cannot be used to probe for accounts.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// IssueToken mints a bearer token for the user.
func (s *Service) IssueToken(user *User) (string, time.Time, error) {
	return s.tokens.Issue(user)
}

// VerifyToken validates a bearer token and checks the revocation list. The
// denylist lives in the cache and is best-effort: with the cache down a
// revoked-but-unexpired token passes, bounded by the token TTL.
func (s *Service) VerifyToken(ctx context.Context, token string) (*shared.Actor, error) {
	actor, _, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.cache.Exists(ctx, cache.SessionKey(token)) {
		return nil, shared.ErrTokenInvalid
	}
	return actor, nil
}

// Revoke invalidates a still-valid token until its natural expiry.
func (s *Service) Revoke(ctx context.Context, token string) {
	if s.cache == nil {
		return
	}
	_, claims, err := s.tokens.Verify(token)
	if err != nil {
		return
	}
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return
	}
	s.cache.Set(ctx, cache.SessionKey(token), "revoked", ttl)
}

// Lookup fetches the current account state for an authenticated actor.
func (s *Service) Lookup(ctx context.Context, userID string) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}
