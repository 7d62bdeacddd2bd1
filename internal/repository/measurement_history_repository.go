package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/promotrack/insights-api/internal/models"
)

type MeasurementHistoryRepository interface {
	Create(ctx context.Context, mh *models.MeasurementHistory) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.MeasurementHistory, error)
}

type measurementHistoryRepository struct {
	db *sql.DB
}

func NewMeasurementHistoryRepository(db *sql.DB) MeasurementHistoryRepository {
	return &measurementHistoryRepository{db: db}
}

func (r *measurementHistoryRepository) Create(ctx context.Context, mh *models.MeasurementHistory) (int64, error) {
	query := `
		INSERT INTO measurement_history (user_id, account_id, media_id, error_message)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, mh.UserID, mh.AccountID, mh.MediaID, mh.ErrorMessage).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *measurementHistoryRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.MeasurementHistory, error) {
	query := `SELECT id, user_id, account_id, media_id, error_message, created_at
		FROM measurement_history WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var mhs []*models.MeasurementHistory
	for rows.Next() {
		var mh models.MeasurementHistory
		err := rows.Scan(&mh.ID, &mh.UserID, &mh.AccountID, &mh.MediaID, &mh.ErrorMessage, &mh.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		mhs = append(mhs, &mh)
	}
	return mhs, nil
}
