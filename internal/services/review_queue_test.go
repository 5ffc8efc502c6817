package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/logging"
	"github.com/studiobook/backend/internal/models"
)

func TestReviewQueue(t *testing.T) {
	ctx := context.Background()
	item := models.ReviewItem{
		Kind:      models.ReviewCashVariance,
		OrgID:     testOrg,
		SubjectID: "sess_1",
		Amount:    -250,
		Currency:  "EUR",
		Detail:    "counted 483.25, expected 485.75",
		QueuedAt:  testNow,
	}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	t.Run("push appends to the org list", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		queue := NewReviewQueue(rdb, "review_queue", logging.Discard())

		mock.ExpectRPush("review_queue:org_1", data).SetVal(1)

		require.NoError(t, queue.Push(ctx, item))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("push error surfaces", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		queue := NewReviewQueue(rdb, "review_queue", logging.Discard())

		mock.ExpectRPush("review_queue:org_1", data).SetErr(errors.New("READONLY"))

		assert.ErrorContains(t, queue.Push(ctx, item), "READONLY")
	})

	t.Run("list skips malformed entries", func(t *testing.T) {
		rdb, mock := redismock.NewClientMock()
		queue := NewReviewQueue(rdb, "review_queue", logging.Discard())

		mock.ExpectLRange("review_queue:org_1", 0, 49).SetVal([]string{string(data), "{broken"})

		items, err := queue.List(ctx, testOrg, 50)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, int64(-250), items[0].Amount)
	})

	t.Run("nil queue is a no-op", func(t *testing.T) {
		var queue *ReviewQueue
		assert.NoError(t, queue.Push(ctx, item))
		items, err := queue.List(ctx, testOrg, 10)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
