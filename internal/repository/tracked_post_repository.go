package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/promotrack/insights-api/internal/models"
)

type TrackedPostRepository interface {
	Create(ctx context.Context, tx *sql.Tx, p *models.TrackedPost) (int64, error)
	GetByMediaID(ctx context.Context, userID int64, accountID, mediaID string) (*models.TrackedPost, error)
	ExistsMediaID(ctx context.Context, userID int64, mediaID string) (bool, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.TrackedPost, error)
	ListByStatus(ctx context.Context, status string) ([]*models.TrackedPost, error)
	SetMeasured(ctx context.Context, userID int64, accountID, mediaID string, m *models.PostMetrics, fetchedAt time.Time) error
	SetThumbnailURL(ctx context.Context, userID int64, accountID, mediaID, thumbnailURL string) error
}

type trackedPostRepository struct {
	db *sql.DB
}

func NewTrackedPostRepository(db *sql.DB) TrackedPostRepository {
	return &trackedPostRepository{db: db}
}

const trackedPostColumns = `
	id, user_id, account_id, media_id, campaign_id, campaign_name,
	media_type, permalink, thumbnail_url, posted_at, status, registered_at,
	data_fetched_at, views, reach, saved, shares, likes, comments,
	avg_watch_time_ms, total_watch_time_ms`

func scanTrackedPost(row interface{ Scan(...interface{}) error }) (*models.TrackedPost, error) {
	var p models.TrackedPost
	err := row.Scan(&p.ID, &p.UserID, &p.AccountID, &p.MediaID, &p.CampaignID,
		&p.CampaignName, &p.MediaType, &p.Permalink, &p.ThumbnailURL,
		&p.PostedAt, &p.Status, &p.RegisteredAt, &p.DataFetchedAt,
		&p.Views, &p.Reach, &p.Saved, &p.Shares, &p.Likes, &p.Comments,
		&p.AvgWatchTimeMs, &p.TotalWatchTimeMs)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *trackedPostRepository) Create(ctx context.Context, tx *sql.Tx, p *models.TrackedPost) (int64, error) {
	var err error
	var id int64

	var insertQuery = `
		INSERT INTO tracked_posts(
			user_id,
			account_id,
			media_id,
			campaign_id,
			campaign_name,
			media_type,
			permalink,
			thumbnail_url,
			posted_at,
			status,
			registered_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	if tx != nil {
		err = tx.QueryRowContext(ctx, insertQuery,
			p.UserID, p.AccountID, p.MediaID, p.CampaignID, p.CampaignName,
			p.MediaType, p.Permalink, p.ThumbnailURL, p.PostedAt, p.Status,
			p.RegisteredAt,
		).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, insertQuery,
			p.UserID, p.AccountID, p.MediaID, p.CampaignID, p.CampaignName,
			p.MediaType, p.Permalink, p.ThumbnailURL, p.PostedAt, p.Status,
			p.RegisteredAt,
		).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *trackedPostRepository) GetByMediaID(ctx context.Context, userID int64, accountID, mediaID string) (*models.TrackedPost, error) {
	query := `SELECT` + trackedPostColumns + `
		FROM tracked_posts
		WHERE user_id = $1 AND account_id = $2 AND media_id = $3`
	row := r.db.QueryRowContext(ctx, query, userID, accountID, mediaID)

	p, err := scanTrackedPost(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return p, nil
}

// ExistsMediaID checks the whole collection of the user's records, across all
// accounts. media_id is the dedup key for registration.
func (r *trackedPostRepository) ExistsMediaID(ctx context.Context, userID int64, mediaID string) (bool, error) {
	query := `SELECT 1 FROM tracked_posts WHERE user_id = $1 AND media_id = $2`

	var result int
	err := r.db.QueryRowContext(ctx, query, userID, mediaID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *trackedPostRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.TrackedPost, error) {
	query := `SELECT` + trackedPostColumns + `
		FROM tracked_posts
		WHERE user_id = $1
		ORDER BY posted_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.TrackedPost
	for rows.Next() {
		p, err := scanTrackedPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}

func (r *trackedPostRepository) ListByStatus(ctx context.Context, status string) ([]*models.TrackedPost, error) {
	query := `SELECT` + trackedPostColumns + `
		FROM tracked_posts
		WHERE status = $1`

	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.TrackedPost
	for rows.Next() {
		p, err := scanTrackedPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, p)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return posts, nil
}

// SetMeasured writes the full metric set, data_fetched_at and the measured
// status in a single statement. The write is a pure overwrite of derived
// values, so applying it twice leaves the row unchanged; that idempotence is
// what makes lock-free duplicate executions safe.
func (r *trackedPostRepository) SetMeasured(ctx context.Context, userID int64, accountID, mediaID string, m *models.PostMetrics, fetchedAt time.Time) error {
	query := `
		UPDATE tracked_posts
		SET
			views = $4,
			reach = $5,
			saved = $6,
			shares = $7,
			likes = $8,
			comments = $9,
			avg_watch_time_ms = $10,
			total_watch_time_ms = $11,
			data_fetched_at = $12,
			status = $13
		WHERE user_id = $1 AND account_id = $2 AND media_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, userID, accountID, mediaID,
		m.Views, m.Reach, m.Saved, m.Shares, m.Likes, m.Comments,
		m.AvgWatchTimeMs, m.TotalWatchTimeMs, fetchedAt, models.PostStatusMeasured)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info("no tracked post row updated", "media_id", mediaID)
		return sql.ErrNoRows
	}

	return nil
}

// SetThumbnailURL fills the thumbnail only while it is still absent, so a
// late blob persistence retry never clobbers an existing permanent URL.
func (r *trackedPostRepository) SetThumbnailURL(ctx context.Context, userID int64, accountID, mediaID, thumbnailURL string) error {
	query := `
		UPDATE tracked_posts
		SET thumbnail_url = $4
		WHERE user_id = $1 AND account_id = $2 AND media_id = $3
		AND (thumbnail_url IS NULL OR thumbnail_url = '')
	`

	_, err := r.db.ExecContext(ctx, query, userID, accountID, mediaID, thumbnailURL)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
