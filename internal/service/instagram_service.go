package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/promotrack/insights-api/configs"
	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/transfer"
	"github.com/promotrack/insights-api/pkg/utils"
)

// invalid-token error code used by the Graph API
const oauthErrorCode = 190

const graphBaseURL = "https://graph.instagram.com"

type InstagramService interface {
	InstagramCallback(ctx context.Context, code string, userID int64) (err error)
	RefreshToken(ctx context.Context, accessToken string) (string, time.Time, error)
}

type instagramService struct {
	cfg     config.Config
	sa      repository.SocialAccountRepository
	baseURL string
}

func NewInstagramService(cfg config.Config, sa repository.SocialAccountRepository) InstagramService {
	return &instagramService{
		cfg:     cfg,
		sa:      sa,
		baseURL: graphBaseURL,
	}
}

// InstagramCallback finishes the one-time account connection: it exchanges
// the authorization code for a long-lived token and stores the account with
// the token encrypted at rest.
func (ig *instagramService) InstagramCallback(ctx context.Context, code string, userID int64) (err error) {

	if code == "" {
		err = errors.New("code is empty")
		slog.Info(err.Error())
		return err
	}

	if userID == 0 {
		err = errors.New("user not found")
		slog.Info(err.Error())
		return err
	}

	token, err := ig.ExchangeCodeForToken(ctx, code)
	if err != nil {
		return err
	}

	userInfo, err := ig.GetInstagramUserInfo(token.AccessToken)
	if err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(token.AccessToken), []byte(ig.cfg.SecretKey))
	if err != nil {
		return err
	}

	accountInfo := &models.SocialAccount{
		UserID:          userID,
		Platform:        "instagram",
		AccountID:       userInfo.UserID,
		AccountName:     userInfo.Name,
		AccountUsername: userInfo.Username,
		ProfilePicture:  userInfo.ProfilePicture,
		AccessToken:     encryptedAccessToken,
		TokenExpiresAt:  token.ExpiresAt,
	}

	_, err = ig.sa.Create(ctx, nil, accountInfo)
	if err != nil {
		return err
	}

	return nil
}

func (ig *instagramService) getShortLivedToken(code string) (*transfer.InstagramToken, error) {
	data := url.Values{}
	data.Set("client_id", ig.cfg.InstagramClientID)
	data.Set("client_secret", ig.cfg.InstagramClientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", ig.cfg.InstagramRedirectURI)
	data.Set("code", code)

	resp, err := http.Post(
		"https://api.instagram.com/oauth/access_token",
		"application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get short-lived token: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken string `json:"access_token"`
		UserID      int    `json:"user_id"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %v", err)
	}

	token := &transfer.InstagramToken{
		UserID:      result.UserID,
		AccessToken: result.AccessToken,
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	return token, nil
}

func (ig *instagramService) getLongLivedToken(shortLivedToken string) (*transfer.InstagramToken, error) {
	url := fmt.Sprintf(
		"https://graph.instagram.com/access_token?grant_type=ig_exchange_token&client_secret=%s&access_token=%s",
		ig.cfg.InstagramClientSecret,
		shortLivedToken,
	)

	resp, err := http.Get(url)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to get long-lived token: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("error response from Instagram: %s (status code: %d)", body, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode long-lived token response: %v", err)
	}

	return &transfer.InstagramToken{
		AccessToken: result.AccessToken,
		ExpiresAt:   time.Now().Add(time.Second * time.Duration(result.ExpiresIn)),
	}, nil
}

func (ig *instagramService) ExchangeCodeForToken(ctx context.Context, code string) (*transfer.InstagramToken, error) {

	shortLivedToken, err := ig.getShortLivedToken(code)
	if err != nil {
		return nil, fmt.Errorf("failed to get short-lived token: %v", err)
	}

	longLivedToken, err := ig.getLongLivedToken(shortLivedToken.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get long-lived token: %v", err)
	}

	return longLivedToken, nil
}

func (ig *instagramService) GetInstagramUserInfo(accessToken string) (*transfer.InstagramUserInfo, error) {
	var userInfo transfer.InstagramUserInfo

	reqUrl := fmt.Sprintf(
		"https://graph.instagram.com/me?fields=id,username,name,account_type,profile_picture_url&access_token=%s",
		accessToken,
	)

	resp, err := http.Get(reqUrl)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return &userInfo, nil
}

// RefreshToken exchanges a still-valid long-lived token for a fresh one.
// Only a provider rejection of the token itself surfaces as
// ErrCredentialExpired; rate limiting and server failures stay retryable so
// they never masquerade as a re-authorization signal.
func (ig *instagramService) RefreshToken(ctx context.Context, accessToken string) (string, time.Time, error) {
	reqUrl := fmt.Sprintf(
		"%s/refresh_access_token?grant_type=ig_refresh_token&access_token=%s",
		ig.baseURL,
		accessToken,
	)

	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return "", time.Time{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		var apiErr transfer.InstagramAPIError
		code := 0
		if err := json.Unmarshal(body, &apiErr); err == nil {
			code = apiErr.Error.Code
		}

		switch {
		case code == oauthErrorCode:
			return "", time.Time{}, fmt.Errorf("%w: %s", ErrCredentialExpired, apiErr.Error.Message)
		case resp.StatusCode == http.StatusTooManyRequests || code == rateLimitErrorCode || code == userRateLimitCode:
			return "", time.Time{}, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		case resp.StatusCode >= http.StatusInternalServerError:
			return "", time.Time{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
		}
		return "", time.Time{}, fmt.Errorf("%w: %s (status code: %d)", ErrCredentialExpired, body, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	expiresAt := time.Now().Add(time.Second * time.Duration(result.ExpiresIn))
	return result.AccessToken, expiresAt, nil
}
