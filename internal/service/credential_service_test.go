package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	config "github.com/promotrack/insights-api/configs"
	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecretKey = "0123456789abcdef0123456789abcdef"

type fakeAccountRepo struct {
	mu      sync.Mutex
	account *models.SocialAccount

	casCalls    int
	casConflict bool // simulate losing the refresh race once
}

func (f *fakeAccountRepo) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = sa
	return 1, nil
}

func (f *fakeAccountRepo) GetByAccountID(ctx context.Context, userID int64, accountID string) (*models.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == nil || f.account.UserID != userID || f.account.AccountID != accountID {
		return nil, nil
	}
	snapshot := *f.account
	return &snapshot, nil
}

func (f *fakeAccountRepo) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	return nil, nil
}

func (f *fakeAccountRepo) ListExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account != nil && f.account.TokenExpiresAt.Before(deadline) {
		snapshot := *f.account
		return []*models.SocialAccount{&snapshot}, nil
	}
	return nil, nil
}

func (f *fakeAccountRepo) CompareAndSetToken(ctx context.Context, userID int64, accountID string, oldExpiresAt time.Time, accessToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls++

	if f.casConflict {
		// Another refresher already stored a newer token.
		f.casConflict = false
		other, _ := utils.Encrypt([]byte("winner-token"), []byte(testSecretKey))
		f.account.AccessToken = other
		f.account.TokenExpiresAt = expiresAt.Add(time.Minute)
		return repository.ErrStaleToken
	}

	if !f.account.TokenExpiresAt.Equal(oldExpiresAt) {
		return repository.ErrStaleToken
	}
	f.account.AccessToken = accessToken
	f.account.TokenExpiresAt = expiresAt
	return nil
}

func (f *fakeAccountRepo) Remove(ctx context.Context, userID int64, id int64) error {
	return nil
}

type fakeRefresher struct {
	mu       sync.Mutex
	calls    int
	newToken string
	ttl      time.Duration
	delay    time.Duration
	err      error
}

func (f *fakeRefresher) RefreshToken(ctx context.Context, accessToken string) (string, time.Time, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	return f.newToken, time.Now().Add(f.ttl), nil
}

func newCredentialFixture(t *testing.T, tokenExpiresIn time.Duration) (*credentialService, *fakeAccountRepo, *fakeRefresher, time.Time) {
	t.Helper()

	now := time.Now()
	encrypted, err := utils.Encrypt([]byte("current-token"), []byte(testSecretKey))
	require.NoError(t, err)

	repo := &fakeAccountRepo{account: &models.SocialAccount{
		UserID:         1,
		Platform:       "instagram",
		AccountID:      "acc1",
		AccessToken:    encrypted,
		TokenExpiresAt: now.Add(tokenExpiresIn),
	}}
	refresher := &fakeRefresher{newToken: "fresh-token", ttl: 60 * 24 * time.Hour}

	cfg := config.Config{SecretKey: testSecretKey}
	svc := NewCredentialService(cfg, repo, refresher).(*credentialService)
	svc.now = func() time.Time { return now }

	return svc, repo, refresher, now
}

func TestGetReturnsTokenWithinSafetyMargin(t *testing.T) {
	svc, _, refresher, _ := newCredentialFixture(t, time.Hour)

	token, err := svc.Get(context.Background(), 1, "acc1")
	require.NoError(t, err)

	assert.Equal(t, "current-token", token)
	assert.Equal(t, 0, refresher.calls)
}

// A token expiring inside the 5-minute safety margin must be refreshed and
// persisted before it is handed out, and a follow-up Get must not refresh
// again.
func TestGetRefreshesInsideSafetyMargin(t *testing.T) {
	svc, repo, refresher, _ := newCredentialFixture(t, 2*time.Minute)

	token, err := svc.Get(context.Background(), 1, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, repo.casCalls)

	again, err := svc.Get(context.Background(), 1, "acc1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", again)
	assert.Equal(t, 1, refresher.calls)
}

func TestConcurrentRefreshesSingleFlight(t *testing.T) {
	svc, _, refresher, _ := newCredentialFixture(t, 2*time.Minute)
	refresher.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = svc.Get(context.Background(), 1, "acc1")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, refresher.calls)
	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-token", tokens[i])
	}
}

func TestRefreshLosesRaceUsesStoredToken(t *testing.T) {
	svc, repo, refresher, _ := newCredentialFixture(t, 2*time.Minute)
	repo.casConflict = true

	token, err := svc.Get(context.Background(), 1, "acc1")
	require.NoError(t, err)

	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, "winner-token", token)
}

// The provider can invalidate a token long before its stored expiry. A
// refresh forced with that exact token must exchange it instead of handing it
// straight back because the expiry still clears the safety margin.
func TestRefreshForcedExchangesRejectedToken(t *testing.T) {
	svc, repo, refresher, _ := newCredentialFixture(t, time.Hour)

	token, err := svc.Refresh(context.Background(), 1, "acc1", "current-token")
	require.NoError(t, err)

	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, repo.casCalls)
}

// When another refresher already replaced the rejected token, the forced path
// keeps the freshness shortcut and returns the stored replacement unexchanged.
func TestRefreshForcedSkipsWhenTokenAlreadyReplaced(t *testing.T) {
	svc, _, refresher, _ := newCredentialFixture(t, time.Hour)

	token, err := svc.Refresh(context.Background(), 1, "acc1", "old-rejected-token")
	require.NoError(t, err)

	assert.Equal(t, "current-token", token)
	assert.Equal(t, 0, refresher.calls)
}

func TestRefreshFailureSurfacesCredentialExpired(t *testing.T) {
	svc, _, refresher, _ := newCredentialFixture(t, 2*time.Minute)
	refresher.err = ErrCredentialExpired

	_, err := svc.Get(context.Background(), 1, "acc1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialExpired))
}

func TestGetUnknownAccount(t *testing.T) {
	svc, _, _, _ := newCredentialFixture(t, time.Hour)

	_, err := svc.Get(context.Background(), 1, "unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCredentialExpired))
}
