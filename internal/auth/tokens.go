package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keystone-api/keystone/internal/shared"
)

// Claims carried in a bearer token. The embedded role is trusted downstream
// as resolver input, so tokens must only ever be minted from verified store
// state.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies HS256 bearer tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenService constructs the token service.
func NewTokenService(secret string, ttl time.Duration, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl, issuer: issuer}
}

// Issue mints a token for the user. Returns the signed token and its expiry.
func (t *TokenService) Issue(user *User) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		Role:  user.Role,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a token, returning the actor it identifies.
// Expired tokens map to shared.ErrTokenExpired; everything else that fails
// validation maps to shared.ErrTokenInvalid.
func (t *TokenService) Verify(token string) (*shared.Actor, *Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, shared.ErrTokenExpired
		}
		return nil, nil, shared.ErrTokenInvalid
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, nil, shared.ErrTokenInvalid
	}
	actor := &shared.Actor{ID: claims.Subject, Email: claims.Email, Role: claims.Role}
	return actor, &claims, nil
}

// TTL exposes the configured token lifetime.
func (t *TokenService) TTL() time.Duration {
	return t.ttl
}
