package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/repository"
)

// MeasurementService executes one deferred measurement: resolve a credential,
// fetch the insights snapshot, commit it. There is no persistent in-progress
// state; safety under duplicate deliveries comes from the final write being a
// pure overwrite of the same derived values.
type MeasurementService interface {
	MeasurePost(ctx context.Context, userID int64, accountID, mediaID string) error
}

type measurementService struct {
	tp       repository.TrackedPostRepository
	mh       repository.MeasurementHistoryRepository
	cred     CredentialService
	insights InsightsService
	th       ThumbnailService
	now      func() time.Time
}

func NewMeasurementService(
	tp repository.TrackedPostRepository,
	mh repository.MeasurementHistoryRepository,
	cred CredentialService,
	insights InsightsService,
	th ThumbnailService) MeasurementService {
	return &measurementService{
		tp:       tp,
		mh:       mh,
		cred:     cred,
		insights: insights,
		th:       th,
		now:      time.Now,
	}
}

func (s *measurementService) MeasurePost(ctx context.Context, userID int64, accountID, mediaID string) error {
	post, err := s.tp.GetByMediaID(ctx, userID, accountID, mediaID)
	if err != nil {
		return err
	}
	if post == nil {
		slog.Info("tracked post not found, dropping work item", "media_id", mediaID)
		return nil
	}

	// A redelivered work item may find the record already measured.
	if post.Status == models.PostStatusMeasured {
		return nil
	}

	if s.now().Before(post.MeasurementDueAt()) {
		slog.Info("tracked post not due yet, leaving pending", "media_id", mediaID)
		return nil
	}

	err = s.measure(ctx, post)
	s.recordAttempt(ctx, post, err)
	return err
}

func (s *measurementService) measure(ctx context.Context, post *models.TrackedPost) error {
	accessToken, err := s.cred.Get(ctx, post.UserID, post.AccountID)
	if err != nil {
		return err
	}

	metrics, err := s.insights.FetchMetrics(ctx, post.MediaID, post.MediaType, accessToken)
	if errors.Is(err, ErrUnauthorized) {
		// The borrowed token went stale mid-flight. Refresh and retry once.
		accessToken, err = s.cred.Refresh(ctx, post.UserID, post.AccountID, accessToken)
		if err != nil {
			return err
		}
		metrics, err = s.insights.FetchMetrics(ctx, post.MediaID, post.MediaType, accessToken)
	}
	if err != nil {
		return err
	}

	s.retryThumbnail(ctx, post, accessToken)

	return s.tp.SetMeasured(ctx, post.UserID, post.AccountID, post.MediaID, metrics, s.now())
}

// retryThumbnail fills the permanent thumbnail URL when registration failed
// to persist one. Cosmetic: failure never blocks the measurement write.
func (s *measurementService) retryThumbnail(ctx context.Context, post *models.TrackedPost, accessToken string) {
	if post.ThumbnailURL != "" {
		return
	}

	media, err := s.insights.GetMedia(ctx, post.MediaID, accessToken)
	if err != nil {
		slog.Info("thumbnail retry: media lookup failed", "media_id", post.MediaID, "error", err.Error())
		return
	}

	sourceURL := media.ThumbnailURL
	if sourceURL == "" {
		sourceURL = media.MediaURL
	}
	if sourceURL == "" {
		return
	}

	permanentURL, err := s.th.Persist(ctx, sourceURL)
	if err != nil {
		slog.Info("thumbnail retry: persistence failed", "media_id", post.MediaID, "error", err.Error())
		return
	}

	if err := s.tp.SetThumbnailURL(ctx, post.UserID, post.AccountID, post.MediaID, permanentURL); err != nil {
		slog.Info("thumbnail retry: update failed", "media_id", post.MediaID, "error", err.Error())
	}
}

func (s *measurementService) recordAttempt(ctx context.Context, post *models.TrackedPost, attemptErr error) {
	history := models.MeasurementHistory{
		UserID:    post.UserID,
		AccountID: post.AccountID,
		MediaID:   post.MediaID,
	}
	if attemptErr != nil {
		history.ErrorMessage = attemptErr.Error()
		slog.Info("measurement attempt failed", "media_id", post.MediaID, "error", attemptErr.Error())
	}

	if _, err := s.mh.Create(ctx, &history); err != nil {
		slog.Info("failed to save measurement history", "media_id", post.MediaID, "error", err.Error())
	}
}
