package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"auth-backend/internal/repository"
)

// Store is the part of the credential store the sweeper works on.
type Store interface {
	ListRefreshTokens(ctx context.Context) ([]repository.StoredRefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, token string) (bool, error)
}

// RefreshVerifier checks the signature and expiry of a refresh token.
type RefreshVerifier interface {
	VerifyRefreshToken(token string) (string, error)
}

// Sweeper periodically clears stored refresh tokens that can no longer be
// used, so signed-out-by-expiry sessions do not linger on user records.
type Sweeper interface {
	Start(ctx context.Context) error
	Shutdown()
	// Sweep runs one pass and returns the number of revoked tokens.
	Sweep(ctx context.Context) (int, error)
}

type Config struct {
	Interval time.Duration
	Logger   *logrus.Logger
}

type sweeper struct {
	cfg    Config
	store  Store
	tokens RefreshVerifier

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg Config, store Store, tokens RefreshVerifier) Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &sweeper{
		cfg:    cfg,
		store:  store,
		tokens: tokens,
	}
}

// Start launches the background loop. A non-positive interval disables it.
func (s *sweeper) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.cfg.Logger.Info("refresh token sweeper disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sweeper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(loopCtx)

	s.cfg.Logger.Infof("refresh token sweeper started, interval: %s", s.cfg.Interval)
	return nil
}

func (s *sweeper) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.cfg.Logger.Info("refresh token sweeper stopped")
}

func (s *sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.cfg.Logger.WithError(err).Warn("refresh token sweep failed")
			}
		}
	}
}

func (s *sweeper) Sweep(ctx context.Context) (int, error) {
	stored, err := s.store.ListRefreshTokens(ctx)
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, st := range stored {
		if _, err := s.tokens.VerifyRefreshToken(st.Token); err == nil {
			continue
		}
		changed, err := s.store.RevokeRefreshToken(ctx, st.UserID, st.Token)
		if err != nil {
			return revoked, fmt.Errorf("revoke token of user %s: %w", st.UserID, err)
		}
		if changed {
			revoked++
		}
	}

	if revoked > 0 {
		s.cfg.Logger.WithField("revoked", revoked).Info("swept stale refresh tokens")
	}
	return revoked, nil
}
