package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/promotrack/insights-api/internal/models"
	"github.com/promotrack/insights-api/internal/queue"
	"github.com/promotrack/insights-api/internal/repository"
)

// MeasurementRef identifies one due record for fan-out.
type MeasurementRef struct {
	UserID    int64
	AccountID string
	MediaID   string
}

// Due selects the records whose measurement horizon has passed. Pure over its
// inputs so the selection rule is testable without a queue or a clock.
func Due(now time.Time, posts []*models.TrackedPost) []MeasurementRef {
	var refs []MeasurementRef
	for _, p := range posts {
		if p.Status != models.PostStatusPending {
			continue
		}
		if now.Before(p.MeasurementDueAt()) {
			continue
		}
		refs = append(refs, MeasurementRef{
			UserID:    p.UserID,
			AccountID: p.AccountID,
			MediaID:   p.MediaID,
		})
	}
	return refs
}

type MeasurementScanJob struct {
	tp     repository.TrackedPostRepository
	client *asynq.Client
}

func NewMeasurementScanJob(tp repository.TrackedPostRepository, client *asynq.Client) *MeasurementScanJob {
	return &MeasurementScanJob{
		tp:     tp,
		client: client,
	}
}

// Scan enumerates due pending records and emits one independent work item
// per record. Pending volumes are small and day-granular, so a full scan
// beats maintaining a due-time index.
func (j *MeasurementScanJob) Scan() {
	ctx := context.Background()

	pending, err := j.tp.ListByStatus(ctx, models.PostStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return
	}

	refs := Due(time.Now(), pending)
	if len(refs) == 0 {
		return
	}

	enqueued := 0
	for _, ref := range refs {
		err := queue.EnqueueMeasurement(j.client, queue.MeasurePostPayload{
			UserID:    ref.UserID,
			AccountID: ref.AccountID,
			MediaID:   ref.MediaID,
		})
		if err != nil {
			// One record's failure never aborts the batch.
			slog.Info("failed to enqueue measurement", "media_id", ref.MediaID, "error", err.Error())
			continue
		}
		enqueued++
	}

	slog.Info("measurement scan complete", "due", len(refs), "enqueued", enqueued)
}
