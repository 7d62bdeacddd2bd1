package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// HandleMeasurePostTask consumes one work item. Delivery is at-least-once and
// the executor's final write is idempotent, so duplicate invocations are
// harmless. Measurement failures are swallowed after logging: the record
// stays pending and the next daily scan re-emits it, which keeps one stuck
// record from aborting or blocking anything else.
func (q *Queue) HandleMeasurePostTask(ctx context.Context, task *asynq.Task) error {
	var payload MeasurePostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that does not parse never will; skip straight to the
		// archive instead of burning retries.
		return fmt.Errorf("unmarshal measure payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := q.ms.MeasurePost(ctx, payload.UserID, payload.AccountID, payload.MediaID); err != nil {
		log.Printf("Error measuring media %s for user %d: %v", payload.MediaID, payload.UserID, err)
	}

	return nil
}
