package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRegistration(accountID, mediaID string) *transfer.PostRegistration {
	return &transfer.PostRegistration{
		AccountID:          accountID,
		MediaID:            mediaID,
		MediaType:          models.MediaTypeImage,
		CampaignID:         "camp-1",
		CampaignName:       "Spring Drop",
		Permalink:          "https://instagram.com/p/x",
		ThumbnailSourceURL: "https://scontent.cdninstagram.com/x.jpg",
		PostedAt:           "2024-01-01T00:00:00Z",
	}
}

func TestRegisterPost(t *testing.T) {
	repo := newFakePostRepo()
	thumbs := &fakeThumbnails{url: "https://blobs.example.com/thumbnails/t1.jpg"}
	svc := NewTrackingService(repo, thumbs)

	id, err := svc.RegisterPost(context.Background(), 1, sampleRegistration("acc1", "m1"))
	require.NoError(t, err)
	require.NotZero(t, id)

	stored := repo.posts[postKey(1, "acc1", "m1")]
	require.NotNil(t, stored)
	assert.Equal(t, models.PostStatusPending, stored.Status)
	assert.Equal(t, "https://blobs.example.com/thumbnails/t1.jpg", stored.ThumbnailURL)
	assert.Equal(t, 1, thumbs.persistCalls)
	assert.False(t, stored.Views.Valid)

	postedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, stored.PostedAt.Equal(postedAt))
	assert.True(t, stored.MeasurementDueAt().Equal(postedAt.Add(7*24*time.Hour)))
}

// The media ID is the dedup key across every account of the user.
func TestRegisterPostDuplicateMedia(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewTrackingService(repo, &fakeThumbnails{url: "u"})

	_, err := svc.RegisterPost(context.Background(), 1, sampleRegistration("acc1", "m1"))
	require.NoError(t, err)

	_, err = svc.RegisterPost(context.Background(), 1, sampleRegistration("acc2", "m1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateMedia))

	// a different user may track the same media
	_, err = svc.RegisterPost(context.Background(), 2, sampleRegistration("acc1", "m1"))
	require.NoError(t, err)
}

func TestRegisterPostThumbnailFailureIsNotFatal(t *testing.T) {
	repo := newFakePostRepo()
	thumbs := &fakeThumbnails{err: errors.New("bucket unavailable")}
	svc := NewTrackingService(repo, thumbs)

	_, err := svc.RegisterPost(context.Background(), 1, sampleRegistration("acc1", "m1"))
	require.NoError(t, err)

	stored := repo.posts[postKey(1, "acc1", "m1")]
	assert.Empty(t, stored.ThumbnailURL)
	assert.Equal(t, models.PostStatusPending, stored.Status)
}

func TestRegisterPostValidation(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewTrackingService(repo, &fakeThumbnails{url: "u"})

	missing := sampleRegistration("", "m1")
	_, err := svc.RegisterPost(context.Background(), 1, missing)
	require.Error(t, err)

	badType := sampleRegistration("acc1", "m1")
	badType.MediaType = "STORY"
	_, err = svc.RegisterPost(context.Background(), 1, badType)
	require.Error(t, err)

	badTime := sampleRegistration("acc1", "m1")
	badTime.PostedAt = "01/01/2024"
	_, err = svc.RegisterPost(context.Background(), 1, badTime)
	require.Error(t, err)

	assert.Empty(t, repo.posts)
}

func TestListProjection(t *testing.T) {
	repo := newFakePostRepo()
	svc := NewTrackingService(repo, &fakeThumbnails{url: "u"})

	pending := duePost(1, "acc1", "m1")
	repo.add(pending)

	measured := duePost(1, "acc1", "m2")
	measured.MediaType = models.MediaTypeVideo
	measured.Status = models.PostStatusMeasured
	measured.Views = sql.NullInt64{Int64: 500, Valid: true}
	measured.Reach = sql.NullInt64{Int64: 420, Valid: true}
	measured.AvgWatchTimeMs = sql.NullInt64{Int64: 3100, Valid: true}
	measured.DataFetchedAt = sql.NullTime{Time: time.Now(), Valid: true}
	repo.add(measured)

	infos, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byMedia := map[string]*transfer.TrackedPostInfo{}
	for _, info := range infos {
		byMedia[info.MediaID] = info
	}

	p := byMedia["m1"]
	require.NotNil(t, p)
	assert.Equal(t, models.PostStatusPending, p.Status)
	assert.Nil(t, p.Views)
	assert.Nil(t, p.DataFetchedAt)
	assert.NotEmpty(t, p.MeasurementDueAt)

	m := byMedia["m2"]
	require.NotNil(t, m)
	assert.Equal(t, models.PostStatusMeasured, m.Status)
	require.NotNil(t, m.Views)
	assert.Equal(t, int64(500), *m.Views)
	require.NotNil(t, m.AvgWatchTimeMs)
	assert.Equal(t, int64(3100), *m.AvgWatchTimeMs)
	assert.NotNil(t, m.DataFetchedAt)
}
