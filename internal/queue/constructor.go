package queue

import (
	"github.com/promotrack/insights-api/internal/service"
)

type Queue struct {
	ms service.MeasurementService
}

func NewQueue(ms service.MeasurementService) *Queue {
	return &Queue{
		ms: ms,
	}
}

const TaskTypeMeasurePost = "measure:post"

// MeasurePostPayload identifies exactly one record. It never carries a
// credential; the executor resolves a fresh one per invocation.
type MeasurePostPayload struct {
	UserID    int64  `json:"user_id"`
	AccountID string `json:"account_id"`
	MediaID   string `json:"media_id"`
}
