package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-backend/internal/auth"
	"auth-backend/internal/domain"
	"auth-backend/internal/repository"
	"auth-backend/internal/repository/sqldb"
	"auth-backend/internal/service"
)

type testServer struct {
	router *gin.Engine
	users  repository.UserRepository
	tokens *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := sqldb.Open(ctx, filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := sqldb.NewUserRepository(db)
	require.NoError(t, users.Init(ctx))

	tokens, err := auth.NewTokenIssuer(auth.IssuerConfig{AccessSecret: "access", RefreshSecret: "refresh"})
	require.NoError(t, err)

	svc := service.NewAuthService(users, auth.NewBcryptHasher(10), tokens, logger)
	handler := NewHandler(svc, auth.NewAuthenticator(tokens, users, logger), Options{
		AllowedOrigins: []string{"https://app.example.com"},
		RefreshTTL:     tokens.RefreshTTL(),
	}, logger)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, users: users, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			reader = bytes.NewBufferString(raw)
		} else {
			payload, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(payload)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func withCookie(value string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: RefreshCookie, Value: value}) }
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func refreshCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookie {
			return c
		}
	}
	return nil
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

var registration = map[string]string{
	"username":         "a",
	"email":            "a@x.com",
	"first_name":       "A",
	"last_name":        "B",
	"password":         "secret1",
	"password_confirm": "secret1",
}

var credentials = map[string]string{"email": "a@x.com", "password": "secret1"}

func TestRegisterThenRepeatConflicts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/register", registration)
	require.Equal(t, http.StatusCreated, rec.Code)

	var profile ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, "A B", profile.FullName)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.do(t, http.MethodPost, "/api/auth/register", registration)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidationErrors(t *testing.T) {
	s := newTestServer(t)

	missing := map[string]string{"email": "a@x.com", "password": "secret1"}
	rec := s.do(t, http.MethodPost, "/api/auth/register", missing)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"message":"Invalid fields"}`, rec.Body.String())

	mismatch := map[string]string{}
	for k, v := range registration {
		mismatch[k] = v
	}
	mismatch["password_confirm"] = "secret2"
	rec = s.do(t, http.MethodPost, "/api/auth/register", mismatch)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"message":"Passwords do not match"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/auth/register", "{not json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLoginSetsCookieOnlyOnSuccess(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/register", registration).Code)

	wrong := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.com", "password": "nope"})
	unknown := s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "z@x.com", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Nil(t, refreshCookie(wrong))
	assert.Nil(t, refreshCookie(unknown))

	rec := s.do(t, http.MethodPost, "/api/auth/login", credentials)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeToken(t, rec)

	cookie := refreshCookie(rec)
	require.NotNil(t, cookie)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookie.SameSite)
	assert.Equal(t, 86400, cookie.MaxAge)

	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@x.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefreshAndLogoutFlow(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/register", registration).Code)

	login := s.do(t, http.MethodPost, "/api/auth/login", credentials)
	require.Equal(t, http.StatusOK, login.Code)
	cookie := refreshCookie(login)
	require.NotNil(t, cookie)

	loginAccess := decodeToken(t, login)
	loginUser, err := s.tokens.VerifyAccessToken(loginAccess)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/auth/refresh", nil, withCookie(cookie.Value))
	require.Equal(t, http.StatusOK, rec.Code)
	refreshedUser, err := s.tokens.VerifyAccessToken(decodeToken(t, rec))
	require.NoError(t, err)
	assert.Equal(t, loginUser, refreshedUser)

	rec = s.do(t, http.MethodGet, "/api/auth/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil, withCookie(cookie.Value))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cleared := refreshCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0)

	rec = s.do(t, http.MethodGet, "/api/auth/refresh", nil, withCookie(cookie.Value))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// unknown session and no cookie are both quiet successes
	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil, withCookie(cookie.Value))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, refreshCookie(rec))
	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

type brokenLogout struct {
	service.AuthService
}

func (brokenLogout) Logout(context.Context, string) error {
	return errors.New("database is locked")
}

type anonymousResolver struct{}

func (anonymousResolver) Resolve(context.Context, string) domain.Identity {
	return domain.Anonymous()
}

func TestLogoutClearsCookieWhenStoreFails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	NewHandler(brokenLogout{}, anonymousResolver{}, Options{}, logger).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	withCookie("some-token")(req)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	cleared := refreshCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.True(t, cleared.MaxAge < 0)
	assert.True(t, cleared.Secure)
}

func TestSecondLoginInvalidatesFirstRefreshToken(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/register", registration).Code)

	first := refreshCookie(s.do(t, http.MethodPost, "/api/auth/login", credentials))
	second := refreshCookie(s.do(t, http.MethodPost, "/api/auth/login", credentials))
	require.NotNil(t, first)
	require.NotNil(t, second)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/auth/refresh", nil, withCookie(first.Value)).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/auth/refresh", nil, withCookie(second.Value)).Code)
}

func TestUserEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/register", registration).Code)
	access := decodeToken(t, s.do(t, http.MethodPost, "/api/auth/login", credentials))

	rec := s.do(t, http.MethodGet, "/api/auth/user", nil, withBearer(access))
	require.Equal(t, http.StatusOK, rec.Code)
	var profile ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "a@x.com", profile.Email)
	assert.NotContains(t, rec.Body.String(), "refresh_token")

	for name, mod := range map[string]func(*http.Request){
		"no header": func(*http.Request) {},
		"malformed": func(r *http.Request) { r.Header.Set("Authorization", "Token "+access) },
		"tampered":  withBearer(access + "x"),
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/auth/user", nil, mod)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
		})
	}
}

func TestExpiredAccessTokenIsAnonymous(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/register", registration).Code)

	login := s.do(t, http.MethodPost, "/api/auth/login", credentials)
	userID, err := s.tokens.VerifyAccessToken(decodeToken(t, login))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	expiredIssuer, err := auth.NewTokenIssuer(auth.IssuerConfig{
		AccessSecret:  "access",
		RefreshSecret: "refresh",
		Now:           func() time.Time { return past },
	})
	require.NoError(t, err)
	expired, err := expiredIssuer.IssueAccessToken(userID)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/auth/user", nil, withBearer(expired))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAnonymousIdentityDoesNotBlockPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", nil, withBearer("garbage"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"404 Not Found"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/nope", nil, func(r *http.Request) { r.Header.Set("Accept", "text/html") })
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "404 Not Found", rec.Body.String())
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodOptions, "/api/auth/login", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://app.example.com")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = s.do(t, http.MethodGet, "/api/health", nil, func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example.com")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	router.Use(recoveryMiddleware(logger))
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
