package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/transfer"
)

const (
	insightsBaseURL    = "https://graph.instagram.com/v21.0"
	maxFetchAttempts   = 5
	fetchBackoffBase   = time.Second
	rateLimitErrorCode = 4
	userRateLimitCode  = 17
	mediaNotFoundCode  = 100
)

var imageMetrics = []string{"views", "reach", "saved", "shares", "likes", "comments"}
var videoMetrics = append(imageMetrics[:len(imageMetrics):len(imageMetrics)],
	"ig_reels_avg_watch_time", "ig_reels_video_view_total_time")

type InsightsService interface {
	FetchMetrics(ctx context.Context, mediaID, mediaType, accessToken string) (*models.PostMetrics, error)
	ListMedia(ctx context.Context, accountID, accessToken string) ([]transfer.InstagramMedia, error)
	GetMedia(ctx context.Context, mediaID, accessToken string) (*transfer.InstagramMedia, error)
}

type insightsService struct {
	baseURL     string
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
}

func NewInsightsService() InsightsService {
	return &insightsService{
		baseURL:     insightsBaseURL,
		client:      http.DefaultClient,
		maxAttempts: maxFetchAttempts,
		backoffBase: fetchBackoffBase,
	}
}

// FetchMetrics reads the full engagement snapshot for one media. Retryable
// failures (rate limits, transient network errors) are retried with capped
// exponential backoff inside this call; when attempts run out the last error
// is surfaced so the record can be picked up by a later scan. NotFound and
// Unauthorized are returned immediately.
func (s *insightsService) FetchMetrics(ctx context.Context, mediaID, mediaType, accessToken string) (*models.PostMetrics, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoffDelay(s.backoffBase, attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		metrics, err := s.fetchMetricsOnce(ctx, mediaID, mediaType, accessToken)
		if err == nil {
			return metrics, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}

		slog.Info("insights fetch attempt failed", "media_id", mediaID, "attempt", attempt+1, "error", err.Error())
		lastErr = err
	}

	return nil, fmt.Errorf("insights fetch exhausted %d attempts: %w", s.maxAttempts, lastErr)
}

func (s *insightsService) fetchMetricsOnce(ctx context.Context, mediaID, mediaType, accessToken string) (*models.PostMetrics, error) {
	metricNames := imageMetrics
	if mediaType == models.MediaTypeVideo {
		metricNames = videoMetrics
	}

	reqUrl := fmt.Sprintf("%s/%s/insights?metric=%s&access_token=%s",
		s.baseURL, mediaID, strings.Join(metricNames, ","), url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp, body)
	}

	var insights transfer.InstagramInsights
	if err := json.Unmarshal(body, &insights); err != nil {
		return nil, fmt.Errorf("error parsing insights response: %w", err)
	}

	values := make(map[string]int64, len(insights.Data))
	for _, entry := range insights.Data {
		if len(entry.Values) > 0 {
			values[entry.Name] = entry.Values[0].Value
		}
	}

	metrics := &models.PostMetrics{
		Views:    values["views"],
		Reach:    values["reach"],
		Saved:    values["saved"],
		Shares:   values["shares"],
		Likes:    values["likes"],
		Comments: values["comments"],
	}

	if mediaType == models.MediaTypeVideo {
		avg := values["ig_reels_avg_watch_time"]
		total := values["ig_reels_video_view_total_time"]
		metrics.AvgWatchTimeMs = &avg
		metrics.TotalWatchTimeMs = &total
	}

	return metrics, nil
}

// ListMedia returns the account's recent media so a client can pick the post
// to register.
func (s *insightsService) ListMedia(ctx context.Context, accountID, accessToken string) ([]transfer.InstagramMedia, error) {
	reqUrl := fmt.Sprintf("%s/%s/media?fields=id,caption,media_type,permalink,media_url,thumbnail_url,timestamp&access_token=%s",
		s.baseURL, accountID, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp, body)
	}

	var list transfer.InstagramMediaList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("error parsing media list response: %w", err)
	}

	return list.Data, nil
}

// GetMedia looks one media up, mainly to recover a fresh ephemeral
// thumbnail URL.
func (s *insightsService) GetMedia(ctx context.Context, mediaID, accessToken string) (*transfer.InstagramMedia, error) {
	reqUrl := fmt.Sprintf("%s/%s?fields=id,media_type,permalink,media_url,thumbnail_url,timestamp&access_token=%s",
		s.baseURL, mediaID, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, "GET", reqUrl, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp, body)
	}

	var media transfer.InstagramMedia
	if err := json.Unmarshal(body, &media); err != nil {
		return nil, fmt.Errorf("error parsing media response: %w", err)
	}

	return &media, nil
}

func classifyAPIError(resp *http.Response, body []byte) error {
	var apiErr transfer.InstagramAPIError
	code := 0
	message := string(body)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Code != 0 {
		code = apiErr.Error.Code
		message = apiErr.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || code == mediaNotFoundCode:
		return fmt.Errorf("%w: %s", ErrMediaNotFound, message)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || code == oauthErrorCode:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	case resp.StatusCode == http.StatusTooManyRequests || code == rateLimitErrorCode || code == userRateLimitCode:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, message)
	default:
		return fmt.Errorf("unexpected status code from Instagram: %d: %s", resp.StatusCode, message)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// backoffDelay doubles per attempt with jitter; a provider retry-after hint
// wins when it is longer.
func backoffDelay(base time.Duration, attempt int, lastErr error) time.Duration {
	delay := base << uint(attempt-1)
	delay += time.Duration(rand.Int63n(int64(base)))

	var rl *RateLimitError
	if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
		delay = rl.RetryAfter
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
