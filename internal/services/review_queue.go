package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

// ReviewQueue is a per-organization Redis list of items that need a person:
// unmatched statement lines, possible matches and cash variances. A nil
// queue or client drops pushes silently.
type ReviewQueue struct {
	redis *redis.Client
	key   string
	log   *logrus.Entry
}

func NewReviewQueue(rdb *redis.Client, key string, log *logrus.Entry) *ReviewQueue {
	return &ReviewQueue{redis: rdb, key: key, log: log.WithField("component", "review_queue")}
}

func (q *ReviewQueue) orgKey(orgID string) string {
	return fmt.Sprintf("%s:%s", q.key, orgID)
}

func (q *ReviewQueue) Push(ctx context.Context, item models.ReviewItem) error {
	if q == nil || q.redis == nil {
		return nil
	}
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if err := q.redis.RPush(ctx, q.orgKey(item.OrgID), data).Err(); err != nil {
		return fmt.Errorf("queue review item: %w", err)
	}
	metrics.ReviewQueuePushes.WithLabelValues(item.Kind).Inc()
	return nil
}

// pushAll queues items and logs failures; review is best effort once the
// underlying change is committed.
func (q *ReviewQueue) pushAll(ctx context.Context, items []models.ReviewItem) {
	for _, item := range items {
		if err := q.Push(ctx, item); err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{"org_id": item.OrgID, "subject": item.SubjectID}).Warn("review item dropped")
		}
	}
}

// List returns up to limit queued items, oldest first.
func (q *ReviewQueue) List(ctx context.Context, orgID string, limit int64) ([]models.ReviewItem, error) {
	if q == nil || q.redis == nil {
		return []models.ReviewItem{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	raw, err := q.redis.LRange(ctx, q.orgKey(orgID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read review queue: %w", err)
	}

	items := make([]models.ReviewItem, 0, len(raw))
	for _, r := range raw {
		var item models.ReviewItem
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			q.log.WithError(err).Warn("skipping malformed review item")
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
