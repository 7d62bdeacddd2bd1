package models

import "time"

// MeasurementHistory records one executor attempt for a tracked post.
// Rows with a non-empty error message are the operator signal for records
// stuck in pending.
type MeasurementHistory struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	MediaID      string    `db:"media_id" json:"media_id"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
