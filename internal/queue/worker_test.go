package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeasurer struct {
	calls []MeasurePostPayload
	err   error
}

func (f *fakeMeasurer) MeasurePost(ctx context.Context, userID int64, accountID, mediaID string) error {
	f.calls = append(f.calls, MeasurePostPayload{UserID: userID, AccountID: accountID, MediaID: mediaID})
	return f.err
}

func measureTask(t *testing.T, payload MeasurePostPayload) *asynq.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeMeasurePost, raw)
}

func TestHandleMeasurePostTask(t *testing.T) {
	measurer := &fakeMeasurer{}
	q := NewQueue(measurer)

	payload := MeasurePostPayload{UserID: 7, AccountID: "acc1", MediaID: "m1"}
	err := q.HandleMeasurePostTask(context.Background(), measureTask(t, payload))
	require.NoError(t, err)

	require.Len(t, measurer.calls, 1)
	assert.Equal(t, payload, measurer.calls[0])
}

// Per-record failures stay inside the record's invocation: the handler logs
// and acks so the next daily scan re-emits the work instead of the queue
// hammering it.
func TestHandleMeasurePostTaskSwallowsMeasureError(t *testing.T) {
	measurer := &fakeMeasurer{err: errors.New("provider down")}
	q := NewQueue(measurer)

	err := q.HandleMeasurePostTask(context.Background(), measureTask(t, MeasurePostPayload{UserID: 1, AccountID: "a", MediaID: "m"}))
	assert.NoError(t, err)
}

// A permanently malformed payload must dead-letter on the first delivery
// instead of being retried until the queue gives up.
func TestHandleMeasurePostTaskBadPayloadSkipsRetry(t *testing.T) {
	q := NewQueue(&fakeMeasurer{})

	err := q.HandleMeasurePostTask(context.Background(), asynq.NewTask(TaskTypeMeasurePost, []byte("not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
