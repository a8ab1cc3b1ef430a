package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crm-job-engine/internal/domain/model"

	"github.com/go-redis/redis/v8"
)

// ChainBreaker suspends claiming for an entire dependency chain after a
// burst of terminal predecessor failures, so a dead upstream does not
// leave hundreds of blocked jobs churning through readiness scans. State
// lives in Redis because suspension must apply across all worker nodes.
//
// The counter uses the same INCR + EXPIRE shape as a fixed-window rate
// limiter: the first failure opens the window, the TTL is the cooldown.
type ChainBreaker struct {
	cli       RedisClient
	threshold int
	window    time.Duration
}

func NewChainBreaker(cli RedisClient, threshold int, window time.Duration) *ChainBreaker {
	return &ChainBreaker{cli: cli, threshold: threshold, window: window}
}

func breakerKey(userID string, root model.JobKind) string {
	return fmt.Sprintf("jobengine:breaker:%s:%s", userID, root)
}

// Allow reports whether the chain rooted at root may be claimed for the
// user. Fails open on Redis errors: a broken breaker should not halt the
// whole queue.
func (b *ChainBreaker) Allow(ctx context.Context, userID string, root model.JobKind) (bool, error) {
	raw, err := b.cli.Get(ctx, breakerKey(userID, root))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, nil
		}
		return true, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return true, nil
	}
	return count < b.threshold, nil
}

// RecordFailure counts one terminal failure in the chain's window.
// Returns true when this failure tripped the breaker.
func (b *ChainBreaker) RecordFailure(ctx context.Context, userID string, root model.JobKind) (bool, error) {
	key := breakerKey(userID, root)
	count, err := b.cli.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := b.cli.Expire(ctx, key, b.window); err != nil {
			return false, err
		}
	}
	return count == int64(b.threshold), nil
}

// Reset clears the suspension, for manual operator intervention.
func (b *ChainBreaker) Reset(ctx context.Context, userID string, root model.JobKind) error {
	return b.cli.Del(ctx, breakerKey(userID, root))
}
