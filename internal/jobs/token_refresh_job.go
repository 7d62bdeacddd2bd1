package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/service"
)

// TokenRefreshJob proactively refreshes tokens nearing expiry so executor
// invocations usually find a warm credential. The Credential Store's safety
// margin check remains the correctness backstop.
type TokenRefreshJob struct {
	sr   repository.SocialAccountRepository
	cred service.CredentialService
}

func NewTokenRefreshJob(sr repository.SocialAccountRepository, cred service.CredentialService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:   sr,
		cred: cred,
	}
}

func (c *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	timeIn30Minutes := time.Now().Add(30 * time.Minute)

	accounts, err := c.sr.ListExpiringBefore(ctx, timeIn30Minutes)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, acc := range accounts {

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			_, err := c.cred.Refresh(ctx, acc.UserID, acc.AccountID, "")
			if err != nil {
				slog.Info("unable to refresh token", "account_id", acc.AccountID, "error", err.Error())
			}
		}(acc)
	}

	wg.Wait()
}
