package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)

// ErrInvalidToken covers malformed, tampered, expired and wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the signed payload of both access and refresh tokens.
type Claims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// IssuerConfig carries the signing material. Secrets are fixed for the
// lifetime of the process.
type IssuerConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// TokenIssuer mints and verifies HS256 access and refresh tokens.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TokenIssuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           cfg.Now,
	}, nil
}

// AccessTTL is the lifetime of issued access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *TokenIssuer) IssueAccessToken(userID string) (string, error) {
	return i.sign(userID, i.accessSecret, i.accessTTL)
}

func (i *TokenIssuer) IssueRefreshToken(userID string) (string, error) {
	return i.sign(userID, i.refreshSecret, i.refreshTTL)
}

// VerifyAccessToken returns the user id bound to an access token.
func (i *TokenIssuer) VerifyAccessToken(token string) (string, error) {
	return i.verify(token, i.accessSecret)
}

// VerifyRefreshToken returns the user id bound to a refresh token. It does
// not consult the store; callers must also check the persisted copy.
func (i *TokenIssuer) VerifyRefreshToken(token string) (string, error) {
	return i.verify(token, i.refreshSecret)
}

func (i *TokenIssuer) sign(userID string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (i *TokenIssuer) verify(tokenString string, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
