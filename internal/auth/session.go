package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"auth-backend/internal/domain"
	"auth-backend/internal/repository"
)

// AccessVerifier resolves an access token to the user id it was issued for.
type AccessVerifier interface {
	VerifyAccessToken(token string) (string, error)
}

// UserFinder looks users up by id.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Authenticator resolves the identity behind an Authorization header. It
// never fails: every problem degrades to an anonymous identity and route
// guards decide whether that is acceptable.
type Authenticator struct {
	tokens AccessVerifier
	users  UserFinder
	logger *logrus.Logger
}

func NewAuthenticator(tokens AccessVerifier, users UserFinder, logger *logrus.Logger) *Authenticator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Authenticator{tokens: tokens, users: users, logger: logger}
}

// Resolve returns the identity for the given Authorization header value.
func (a *Authenticator) Resolve(ctx context.Context, authorization string) domain.Identity {
	token, ok := BearerToken(authorization)
	if !ok {
		return domain.Anonymous()
	}

	userID, err := a.tokens.VerifyAccessToken(token)
	if err != nil {
		a.logger.WithError(err).Debug("access token rejected")
		return domain.Anonymous()
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			a.logger.WithError(err).WithField("user_id", userID).Warn("resolve session user")
		}
		return domain.Anonymous()
	}

	return domain.Authenticated(user.Profile())
}

// BearerToken extracts the token from a "Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
