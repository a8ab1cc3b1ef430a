package redis

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const pausedKey = "jobengine:paused"

// QueueState holds the cluster-wide pause flag. Pausing must stop claims
// on every node, so the flag lives in Redis rather than runner memory.
type QueueState struct {
	cli RedisClient
}

func NewQueueState(cli RedisClient) *QueueState {
	return &QueueState{cli: cli}
}

func (q *QueueState) Paused(ctx context.Context) (bool, error) {
	v, err := q.cli.Get(ctx, pausedKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v == "1", nil
}

func (q *QueueState) SetPaused(ctx context.Context, paused bool) error {
	if !paused {
		return q.cli.Del(ctx, pausedKey)
	}
	return q.cli.Set(ctx, pausedKey, "1", 0)
}
