package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	config "github.com/promotrack/insights-api/configs"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/pkg/utils"
	"golang.org/x/sync/singleflight"
)

// tokenSafetyMargin is the minimum remaining validity a borrowed token must
// have. A token expiring sooner is refreshed before it is handed out.
const tokenSafetyMargin = 5 * time.Minute

// TokenRefresher performs the provider-specific long-lived-token refresh
// exchange.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, accessToken string) (string, time.Time, error)
}

// CredentialService owns access tokens. Callers borrow a token for the
// duration of one API call and never cache it.
//
// Refresh takes the token the caller just saw rejected (empty for a purely
// expiry-driven refresh): the provider can invalidate a token long before its
// stored expiry, so a rejected token is exchanged even while it still looks
// fresh.
type CredentialService interface {
	Get(ctx context.Context, userID int64, accountID string) (string, error)
	Refresh(ctx context.Context, userID int64, accountID, staleToken string) (string, error)
}

type credentialService struct {
	cfg       config.Config
	sa        repository.SocialAccountRepository
	refresher TokenRefresher
	group     singleflight.Group
	now       func() time.Time
}

func NewCredentialService(cfg config.Config, sa repository.SocialAccountRepository, refresher TokenRefresher) CredentialService {
	return &credentialService{
		cfg:       cfg,
		sa:        sa,
		refresher: refresher,
		now:       time.Now,
	}
}

// Get returns a decrypted token valid for at least tokenSafetyMargin,
// refreshing it first when necessary.
func (s *credentialService) Get(ctx context.Context, userID int64, accountID string) (string, error) {
	account, err := s.sa.GetByAccountID(ctx, userID, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("%w: account %s not connected", ErrCredentialExpired, accountID)
	}

	if account.TokenExpiresAt.After(s.now().Add(tokenSafetyMargin)) {
		return utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	}

	return s.Refresh(ctx, userID, accountID, "")
}

// Refresh performs the provider refresh exchange and persists the new token.
// Concurrent refreshes for the same account collapse into one in-flight call.
func (s *credentialService) Refresh(ctx context.Context, userID int64, accountID, staleToken string) (string, error) {
	key := strconv.FormatInt(userID, 10) + ":" + accountID

	token, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, userID, accountID, staleToken)
	})
	if err != nil {
		return "", err
	}

	return token.(string), nil
}

func (s *credentialService) refresh(ctx context.Context, userID int64, accountID, staleToken string) (string, error) {
	account, err := s.sa.GetByAccountID(ctx, userID, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("%w: account %s not connected", ErrCredentialExpired, accountID)
	}

	currentToken, err := utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return "", err
	}

	// A call that queued behind an in-flight refresh may find a fresh token
	// already persisted. That shortcut must not fire while the stored token
	// is still the one the caller saw rejected.
	if currentToken != staleToken && account.TokenExpiresAt.After(s.now().Add(tokenSafetyMargin)) {
		return currentToken, nil
	}

	newToken, expiresAt, err := s.refresher.RefreshToken(ctx, currentToken)
	if err != nil {
		if errors.Is(err, ErrCredentialExpired) {
			return "", err
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	encryptedToken, err := utils.Encrypt([]byte(newToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return "", err
	}

	err = s.sa.CompareAndSetToken(ctx, userID, accountID, account.TokenExpiresAt, encryptedToken, expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrStaleToken) {
			// Lost the race to another refresher; use whatever it stored.
			refreshed, rerr := s.sa.GetByAccountID(ctx, userID, accountID)
			if rerr != nil || refreshed == nil {
				return "", fmt.Errorf("token refreshed concurrently but re-read failed: %v", rerr)
			}
			return utils.Decrypt(refreshed.AccessToken, []byte(s.cfg.SecretKey))
		}
		return "", err
	}

	slog.Info("access token refreshed", "account_id", accountID)
	return newToken, nil
}
