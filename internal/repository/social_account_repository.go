package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/promotrack/insights-api/internal/models"
)

// ErrStaleToken is returned by CompareAndSetToken when the stored expiry no
// longer matches, meaning a concurrent refresh already replaced the token.
var ErrStaleToken = errors.New("token already refreshed concurrently")

type SocialAccountRepository interface {
	Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error)
	GetByAccountID(ctx context.Context, userID int64, accountID string) (*models.SocialAccount, error)
	ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	ListExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.SocialAccount, error)
	CompareAndSetToken(ctx context.Context, userID int64, accountID string, oldExpiresAt time.Time, accessToken string, expiresAt time.Time) error
	Remove(ctx context.Context, userID int64, id int64) error
}

type socialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) SocialAccountRepository {
	return &socialAccountRepository{db: db}
}

func (r *socialAccountRepository) Create(ctx context.Context, tx *sql.Tx, sa *models.SocialAccount) (int64, error) {
	var err error
	var id int64

	var insertQuery = `
		INSERT INTO social_accounts(
			user_id,
			platform,
			account_id,
			account_name,
			account_username,
			profile_picture_url,
			access_token,
			token_expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	if tx != nil {
		err = tx.QueryRowContext(ctx, insertQuery,
			sa.UserID, sa.Platform, sa.AccountID, sa.AccountName,
			sa.AccountUsername, sa.ProfilePicture, sa.AccessToken,
			sa.TokenExpiresAt,
		).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, insertQuery,
			sa.UserID, sa.Platform, sa.AccountID, sa.AccountName,
			sa.AccountUsername, sa.ProfilePicture, sa.AccessToken,
			sa.TokenExpiresAt,
		).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *socialAccountRepository) GetByAccountID(ctx context.Context, userID int64, accountID string) (*models.SocialAccount, error) {
	query := `SELECT id, user_id, platform, account_id, account_name,
			account_username, profile_picture_url, access_token,
			token_expires_at, created_at, updated_at
		FROM social_accounts
		WHERE user_id = $1 AND account_id = $2`
	row := r.db.QueryRowContext(ctx, query, userID, accountID)

	var sa models.SocialAccount
	err := row.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID,
		&sa.AccountName, &sa.AccountUsername, &sa.ProfilePicture,
		&sa.AccessToken, &sa.TokenExpiresAt, &sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &sa, nil
}

func (r *socialAccountRepository) ListInfoByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	query := `SELECT id, account_id, account_name, account_username, profile_picture_url, platform
		FROM social_accounts WHERE user_id = $1`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var socialAccounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		err := rows.Scan(&sa.ID, &sa.AccountID, &sa.AccountName, &sa.AccountUsername, &sa.ProfilePicture, &sa.Platform)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		socialAccounts = append(socialAccounts, &sa)
	}
	return socialAccounts, nil
}

func (r *socialAccountRepository) ListExpiringBefore(ctx context.Context, deadline time.Time) ([]*models.SocialAccount, error) {
	query := `SELECT id, user_id, platform, account_id, access_token, token_expires_at
		FROM social_accounts
		WHERE token_expires_at < $1`
	rows, err := r.db.QueryContext(ctx, query, deadline)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var socialAccounts []*models.SocialAccount
	for rows.Next() {
		var sa models.SocialAccount
		err := rows.Scan(&sa.ID, &sa.UserID, &sa.Platform, &sa.AccountID, &sa.AccessToken, &sa.TokenExpiresAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		socialAccounts = append(socialAccounts, &sa)
	}

	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return socialAccounts, nil
}

// CompareAndSetToken replaces the stored token only while the previously read
// expiry still matches. A losing concurrent refresh gets ErrStaleToken and
// must re-read instead of overwriting the newer token.
func (r *socialAccountRepository) CompareAndSetToken(ctx context.Context, userID int64, accountID string, oldExpiresAt time.Time, accessToken string, expiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	updateTokenQuery := `
		UPDATE social_accounts
		SET
			access_token = $4,
			token_expires_at = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE user_id = $1 AND account_id = $2 AND token_expires_at = $3;
	`
	result, err := tx.ExecContext(ctx, updateTokenQuery, userID, accountID, oldExpiresAt, accessToken, expiresAt)
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
		slog.Info("token already refreshed concurrently", "account_id", accountID)
		return ErrStaleToken
	}

	if err = tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *socialAccountRepository) Remove(ctx context.Context, userID int64, id int64) error {
	query := `DELETE FROM social_accounts WHERE id = $1 AND user_id = $2`

	_, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	return nil
}
