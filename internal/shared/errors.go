package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenExpired occurs when a bearer token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid occurs when a bearer token is malformed or its signature fails.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrEmailTaken occurs when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
)
