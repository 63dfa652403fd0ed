package workorder

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "safegate:workorder:"

// redisStore keeps each work order as a Redis hash so the safety-check
// fields can be merged without rewriting the record.
type redisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client as a work-order Store.
func NewRedisStore(client redis.UniversalClient) Store {
	return &redisStore{client: client}
}

func (r *redisStore) Get(ctx context.Context, workOrderID string) (map[string]string, error) {
	rec, err := r.client.HGetAll(ctx, keyPrefix+workOrderID).Result()
	if err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *redisStore) UpdateSafetyCheck(ctx context.Context, workOrderID, response string, performedAt time.Time) error {
	key := keyPrefix + workOrderID
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return r.client.HSet(ctx, key,
		FieldResponse, response,
		FieldPerformedAt, performedAt.Format(time.RFC3339Nano),
	).Err()
}
