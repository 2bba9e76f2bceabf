package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"auth-backend/internal/auth"
	"auth-backend/internal/domain"
	"auth-backend/internal/repository"
)

var (
	// ErrInvalidInput indicates missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid fields")
	// ErrPasswordMismatch indicates password and confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrUserAlreadyExists is returned when attempting to register with an existing email.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrRegistrationFailed wraps internal failures while creating an account.
	ErrRegistrationFailed = errors.New("could not register")
	// ErrInvalidCredentials is shared by unknown email and wrong password.
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	// ErrUnauthenticated indicates no refresh credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates a refresh credential that is invalid or revoked.
	ErrForbidden = errors.New("invalid refresh token")
)

const minPasswordLength = 6

var validate = validator.New()

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	Username        string `validate:"required"`
	Email           string `validate:"required"`
	FirstName       string `validate:"required"`
	LastName        string `validate:"required"`
	Password        string `validate:"required"`
	PasswordConfirm string `validate:"required"`
}

type loginInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

// Session is the outcome of a successful login.
type Session struct {
	User         domain.Profile
	AccessToken  string
	RefreshToken string
}

// TokenIssuer is the subset of auth.TokenIssuer the workflows need.
type TokenIssuer interface {
	IssueAccessToken(userID string) (string, error)
	IssueRefreshToken(userID string) (string, error)
	VerifyRefreshToken(token string) (string, error)
}

// AuthService describes the account and session lifecycle.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.Profile, error)
	Login(ctx context.Context, email, password string) (*Session, error)
	// Refresh issues a new access token; the refresh token itself is not rotated.
	Refresh(ctx context.Context, refreshToken string) (string, error)
	// Logout revokes refreshToken if it is active. Unknown or empty tokens are a no-op.
	Logout(ctx context.Context, refreshToken string) error
}

type authService struct {
	users  repository.UserRepository
	hasher auth.PasswordHasher
	tokens TokenIssuer
	logger *logrus.Logger
}

func NewAuthService(users repository.UserRepository, hasher auth.PasswordHasher, tokens TokenIssuer, logger *logrus.Logger) AuthService {
	if logger == nil {
		logger = logrus.New()
	}
	return &authService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.Profile, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = domain.NormalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.Password != in.PasswordConfirm {
		return nil, ErrPasswordMismatch
	}

	// A taken email wins over field format errors.
	exists, err := s.users.Exists(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if exists {
		return nil, ErrUserAlreadyExists
	}

	if err := validate.Var(in.Email, "email"); err != nil {
		return nil, fmt.Errorf("%w: email: %v", ErrInvalidInput, err)
	}
	if err := validate.Var(in.Password, fmt.Sprintf("min=%d", minPasswordLength)); err != nil {
		return nil, fmt.Errorf("%w: password: %v", ErrInvalidInput, err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	user := &domain.User{
		Username:     in.Username,
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	profile := user.Profile()
	return &profile, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*Session, error) {
	in := loginInput{Email: domain.NormalizeEmail(email), Password: password}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	// Overwrites any previous session; last login wins.
	if err := s.users.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		User:         user.Profile(),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrUnauthenticated
	}

	user, err := s.users.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrForbidden
		}
		return "", fmt.Errorf("load refresh session: %w", err)
	}

	userID, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Info("refresh token verification failed")
		return "", ErrForbidden
	}
	if userID != user.ID {
		s.logger.WithField("user_id", user.ID).Warn("refresh token bound to another user")
		return "", ErrForbidden
	}

	access, err := s.tokens.IssueAccessToken(user.ID)
	if err != nil {
		return "", fmt.Errorf("issue access token: %w", err)
	}
	return access, nil
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	user, err := s.users.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load refresh session: %w", err)
	}

	if _, err := s.users.RevokeRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	s.logger.WithField("user_id", user.ID).Info("user logged out")
	return nil
}
