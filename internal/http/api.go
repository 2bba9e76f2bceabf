package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"auth-backend/internal/domain"
	"auth-backend/internal/service"
)

// RefreshCookie is the name of the cookie carrying the refresh token.
const RefreshCookie = "refresh_token"

// IdentityResolver maps an Authorization header to the caller's identity.
type IdentityResolver interface {
	Resolve(ctx context.Context, authorization string) domain.Identity
}

// Options configures cookies and CORS. The refresh cookie is always Secure.
type Options struct {
	AllowedOrigins []string
	CookieDomain   string
	RefreshTTL     time.Duration
}

// Handler wires HTTP routes to the auth workflows.
type Handler struct {
	auth     service.AuthService
	sessions IdentityResolver
	opts     Options
	logger   *logrus.Logger
}

func NewHandler(auth service.AuthService, sessions IdentityResolver, opts Options, logger *logrus.Logger) *Handler {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		auth:     auth,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(recoveryMiddleware(h.logger), requestLogger(h.logger), corsMiddleware(h.opts.AllowedOrigins), h.authenticate())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authGroup := api.Group("/auth")
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/logout", h.logout)
		authGroup.GET("/refresh", h.refresh)
		authGroup.GET("/user", requireUser(), h.user)
	}

	router.NoRoute(notFound)
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// ProfileResponse is the public JSON form of a user.
type ProfileResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, service.ErrInvalidInput)
		return
	}

	profile, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, profileToResponse(*profile))
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, service.ErrInvalidInput)
		return
	}

	session, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}

	h.setRefreshCookie(c, session.RefreshToken, int(h.opts.RefreshTTL.Seconds()))
	c.JSON(http.StatusOK, tokenResponse{AccessToken: session.AccessToken})
}

func (h *Handler) refresh(c *gin.Context) {
	token, err := c.Cookie(RefreshCookie)
	if err != nil || token == "" {
		h.fail(c, service.ErrUnauthenticated)
		return
	}

	access, err := h.auth.Refresh(c.Request.Context(), token)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{AccessToken: access})
}

func (h *Handler) logout(c *gin.Context) {
	token, err := c.Cookie(RefreshCookie)
	if err != nil || token == "" {
		c.Status(http.StatusNoContent)
		return
	}

	err = h.auth.Logout(c.Request.Context(), token)
	h.setRefreshCookie(c, "", -1)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) user(c *gin.Context) {
	profile, _ := identity(c).Profile()
	c.JSON(http.StatusOK, profileToResponse(profile))
}

func (h *Handler) setRefreshCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(RefreshCookie, value, maxAge, "/", h.opts.CookieDomain, true, true)
}

// fail writes the response for err. Internal failures are logged and
// reported but only a generic message reaches the client.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "Invalid fields"})
	case errors.Is(err, service.ErrPasswordMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "Passwords do not match"})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"message": "User already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Email or password is incorrect"})
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": "Invalid refresh token"})
	case errors.Is(err, service.ErrRegistrationFailed):
		h.report(c, err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "Could not register"})
	default:
		h.report(c, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) report(c *gin.Context, err error) {
	h.logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.Request.URL.Path,
	}).Error("request failed")
	sentry.CaptureException(err)
}

func notFound(c *gin.Context) {
	if c.NegotiateFormat(gin.MIMEJSON) == gin.MIMEJSON {
		c.JSON(http.StatusNotFound, gin.H{"error": "404 Not Found"})
		return
	}
	c.String(http.StatusNotFound, "404 Not Found")
}

func profileToResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		FullName:  p.FullName(),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}
