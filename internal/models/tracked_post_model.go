package models

import (
	"database/sql"
	"time"
)

// MeasurementHorizon is how long after publication engagement metrics are
// captured. Due time is always derived from PostedAt, never stored.
const MeasurementHorizon = 7 * 24 * time.Hour

type TrackedPost struct {
	ID               int64         `db:"id" json:"id"`
	UserID           int64         `db:"user_id" json:"user_id"`
	AccountID        string        `db:"account_id" json:"account_id"`
	MediaID          string        `db:"media_id" json:"media_id"`
	CampaignID       string        `db:"campaign_id" json:"campaign_id"`
	CampaignName     string        `db:"campaign_name" json:"campaign_name"`
	MediaType        string        `db:"media_type" json:"media_type"` // IMAGE, VIDEO, CAROUSEL_ALBUM
	Permalink        string        `db:"permalink" json:"permalink"`
	ThumbnailURL     string        `db:"thumbnail_url" json:"thumbnail_url"`
	PostedAt         time.Time     `db:"posted_at" json:"posted_at"`
	Status           string        `db:"status" json:"status"` // pending, measured
	RegisteredAt     time.Time     `db:"registered_at" json:"registered_at"`
	DataFetchedAt    sql.NullTime  `db:"data_fetched_at" json:"-"`
	Views            sql.NullInt64 `db:"views" json:"-"`
	Reach            sql.NullInt64 `db:"reach" json:"-"`
	Saved            sql.NullInt64 `db:"saved" json:"-"`
	Shares           sql.NullInt64 `db:"shares" json:"-"`
	Likes            sql.NullInt64 `db:"likes" json:"-"`
	Comments         sql.NullInt64 `db:"comments" json:"-"`
	AvgWatchTimeMs   sql.NullInt64 `db:"avg_watch_time_ms" json:"-"`
	TotalWatchTimeMs sql.NullInt64 `db:"total_watch_time_ms" json:"-"`
}

// MeasurementDueAt returns the instant the post becomes due for measurement.
func (p *TrackedPost) MeasurementDueAt() time.Time {
	return p.PostedAt.Add(MeasurementHorizon)
}

// PostMetrics is the full metric set fetched at the measurement horizon.
// Applied to a TrackedPost as one atomic update.
type PostMetrics struct {
	Views            int64
	Reach            int64
	Saved            int64
	Shares           int64
	Likes            int64
	Comments         int64
	AvgWatchTimeMs   *int64
	TotalWatchTimeMs *int64
}

const (
	PostStatusPending  = "pending"
	PostStatusMeasured = "measured"
)

const (
	MediaTypeImage    = "IMAGE"
	MediaTypeVideo    = "VIDEO"
	MediaTypeCarousel = "CAROUSEL_ALBUM"
)
