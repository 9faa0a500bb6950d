package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// delayedMessage is a released body waiting in the delayed set. Origin keeps
// two releases of identical bodies from collapsing into one set member.
type delayedMessage struct {
	Origin string `json:"origin"`
	Body   string `json:"body"`
}

// PromoteDue moves up to limit delayed messages that are due at now back onto
// the stream and returns how many were moved.
func (q *RedisClient) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	raws, err := q.client.ZRangeByScore(ctx, q.delayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("zrangebyscore: %w", err)
	}

	moved := 0
	for _, raw := range raws {
		// whoever removes the member owns it
		removed, err := q.client.ZRem(ctx, q.delayedSet, raw).Result()
		if err != nil {
			return moved, fmt.Errorf("zrem: %w", err)
		}
		if removed == 0 {
			continue
		}

		var dm delayedMessage
		if err := json.Unmarshal([]byte(raw), &dm); err != nil {
			// keep the bytes; the adapter quarantines what does not decode
			dm.Body = raw
		}

		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]interface{}{bodyField: dm.Body},
		}).Err(); err != nil {
			_ = q.client.ZAdd(ctx, q.delayedSet, redis.Z{Score: float64(now.UnixMilli()), Member: raw}).Err()
			return moved, fmt.Errorf("xadd: %w", err)
		}
		moved++
	}
	return moved, nil
}

// RunPromoter calls PromoteDue every interval until ctx is done.
func (q *RedisClient) RunPromoter(ctx context.Context, every time.Duration, log *zap.Logger) {
	log = log.Named("promoter")

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := q.PromoteDue(ctx, now, 100)
			if err != nil {
				log.Warn("promote delayed messages", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("released delayed messages", zap.Int("count", n))
			}
		}
	}
}
