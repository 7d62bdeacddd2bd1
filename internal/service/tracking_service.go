package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/transfer"
)

// TrackingService is the client-facing surface of the pipeline: it accepts
// freshly published posts for deferred measurement and serves the read side.
type TrackingService interface {
	RegisterPost(ctx context.Context, userID int64, pr *transfer.PostRegistration) (int64, error)
	List(ctx context.Context, userID int64) ([]*transfer.TrackedPostInfo, error)
}

type trackingService struct {
	tp repository.TrackedPostRepository
	th ThumbnailService
}

func NewTrackingService(tp repository.TrackedPostRepository, th ThumbnailService) TrackingService {
	return &trackingService{
		tp: tp,
		th: th,
	}
}

func (s *trackingService) RegisterPost(ctx context.Context, userID int64, pr *transfer.PostRegistration) (int64, error) {
	if pr == nil {
		err := errors.New("post registration data is nil")
		slog.Error(err.Error())
		return 0, err
	}
	if pr.MediaID == "" || pr.AccountID == "" {
		err := errors.New("media_id and account_id are required")
		slog.Info(err.Error())
		return 0, err
	}

	switch pr.MediaType {
	case models.MediaTypeImage, models.MediaTypeVideo, models.MediaTypeCarousel:
	default:
		err := fmt.Errorf("invalid media type: %s", pr.MediaType)
		slog.Info(err.Error())
		return 0, err
	}

	postedAt, err := time.Parse(time.RFC3339, pr.PostedAt)
	if err != nil {
		err = fmt.Errorf("invalid posted_at format: %w", err)
		slog.Info(err.Error())
		return 0, err
	}

	// media_id is the dedup key across every account of the user
	exists, err := s.tp.ExistsMediaID(ctx, userID, pr.MediaID)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrDuplicateMedia
	}

	// The source URL expires, so the copy happens before the first durable
	// write. Persistence failure is cosmetic only; the executor retries it
	// while the field is still empty.
	thumbnailURL := ""
	if pr.ThumbnailSourceURL != "" {
		thumbnailURL, err = s.th.Persist(ctx, pr.ThumbnailSourceURL)
		if err != nil {
			slog.Info("thumbnail persistence failed, continuing without", "media_id", pr.MediaID, "error", err.Error())
			thumbnailURL = ""
		}
	}

	post := models.TrackedPost{
		UserID:       userID,
		AccountID:    pr.AccountID,
		MediaID:      pr.MediaID,
		CampaignID:   pr.CampaignID,
		CampaignName: pr.CampaignName,
		MediaType:    pr.MediaType,
		Permalink:    pr.Permalink,
		ThumbnailURL: thumbnailURL,
		PostedAt:     postedAt,
		Status:       models.PostStatusPending,
		RegisteredAt: time.Now(),
	}

	id, err := s.tp.Create(ctx, nil, &post)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (s *trackingService) List(ctx context.Context, userID int64) ([]*transfer.TrackedPostInfo, error) {
	posts, err := s.tp.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	infos := make([]*transfer.TrackedPostInfo, 0, len(posts))
	for _, p := range posts {
		infos = append(infos, toTrackedPostInfo(p))
	}
	return infos, nil
}

func toTrackedPostInfo(p *models.TrackedPost) *transfer.TrackedPostInfo {
	info := &transfer.TrackedPostInfo{
		ID:               p.ID,
		AccountID:        p.AccountID,
		MediaID:          p.MediaID,
		CampaignID:       p.CampaignID,
		CampaignName:     p.CampaignName,
		MediaType:        p.MediaType,
		Permalink:        p.Permalink,
		ThumbnailURL:     p.ThumbnailURL,
		PostedAt:         p.PostedAt.Format(time.RFC3339),
		MeasurementDueAt: p.MeasurementDueAt().Format(time.RFC3339),
		Status:           p.Status,
	}

	if p.DataFetchedAt.Valid {
		fetched := p.DataFetchedAt.Time.Format(time.RFC3339)
		info.DataFetchedAt = &fetched
	}
	info.Views = nullableInt(p.Views)
	info.Reach = nullableInt(p.Reach)
	info.Saved = nullableInt(p.Saved)
	info.Shares = nullableInt(p.Shares)
	info.Likes = nullableInt(p.Likes)
	info.Comments = nullableInt(p.Comments)
	info.AvgWatchTimeMs = nullableInt(p.AvgWatchTimeMs)
	info.TotalWatchTimeMs = nullableInt(p.TotalWatchTimeMs)

	return info
}
