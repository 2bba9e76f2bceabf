package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"auth-backend/internal/auth"
	"auth-backend/internal/config"
	apphttp "auth-backend/internal/http"
	"auth-backend/internal/observability"
	"auth-backend/internal/repository/sqldb"
	"auth-backend/internal/service"
	"auth-backend/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.Fatalf("setup logger: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	if err := observability.InitSentry(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Fatalf("init sentry: %v", err)
	}
	defer observability.FlushSentry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()
	logger.Infof("using %s database", db.Dialect())

	userRepo := sqldb.NewUserRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(auth.IssuerConfig{
		AccessSecret:  cfg.Auth.AccessSecret,
		RefreshSecret: cfg.Auth.RefreshSecret,
		AccessTTL:     cfg.Auth.AccessTTL,
		RefreshTTL:    cfg.Auth.RefreshTTL,
	})
	if err != nil {
		logger.Fatalf("setup token issuer: %v", err)
	}

	authService := service.NewAuthService(userRepo, auth.NewBcryptHasher(cfg.Auth.BcryptCost), tokens, logger)
	authenticator := auth.NewAuthenticator(tokens, userRepo, logger)

	tokenSweeper := sweeper.New(sweeper.Config{
		Interval: cfg.Auth.SweepInterval,
		Logger:   logger,
	}, userRepo, tokens)
	if err := tokenSweeper.Start(ctx); err != nil {
		logger.Fatalf("start sweeper: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	handler := apphttp.NewHandler(authService, authenticator, apphttp.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		CookieDomain:   cfg.Cookie.Domain,
		RefreshTTL:     tokens.RefreshTTL(),
	}, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	tokenSweeper.Shutdown()

	logger.Info("bye")
}
