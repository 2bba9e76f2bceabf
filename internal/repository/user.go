package repository

import (
	"context"
	"errors"

	"auth-backend/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches a lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned by Create when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// StoredRefreshToken pairs a user with the refresh token persisted on its record.
type StoredRefreshToken struct {
	UserID string
	Token  string
}

// UserRepository defines persistence operations for User entities.
// Emails are expected in normalized form.
type UserRepository interface {
	Init(ctx context.Context) error
	// Create assigns ID and timestamps on user.
	Create(ctx context.Context, user *domain.User) error
	Exists(ctx context.Context, email string) (bool, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByRefreshToken(ctx context.Context, token string) (*domain.User, error)
	// SetRefreshToken overwrites the stored token; an empty token clears it.
	SetRefreshToken(ctx context.Context, id string, token string) error
	// RevokeRefreshToken clears the stored token only while it still equals
	// token, so a newer login is never undone. It reports whether a row changed.
	RevokeRefreshToken(ctx context.Context, id string, token string) (bool, error)
	ListRefreshTokens(ctx context.Context) ([]StoredRefreshToken, error)
}
