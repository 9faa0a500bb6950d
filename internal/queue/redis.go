package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"redis-job-consumer/internal/config"
)

// bodyField is the stream entry field holding the message body.
const bodyField = "job"

// RedisClient is a Client backed by a Redis stream and a consumer group.
// Reserved messages sit in the group's pending list until deleted or
// released. Messages left pending longer than the reserve timeout are
// reclaimed by the next Get, so a consumer that died mid-job does not strand
// them.
type RedisClient struct {
	client         *redis.Client
	stream         string
	consumerGroup  string
	consumer       string
	delayedSet     string
	reserveTimeout time.Duration
}

// NewRedisClient connects to Redis and makes sure the stream and consumer
// group exist.
func NewRedisClient(ctx context.Context, cfg config.Redis) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	q := newRedisClient(rdb, cfg)
	if err := q.ensureGroup(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return q, nil
}

func newRedisClient(rdb *redis.Client, cfg config.Redis) *RedisClient {
	delayed := cfg.DelayedSet
	if delayed == "" {
		delayed = cfg.Stream + ":delayed"
	}
	return &RedisClient{
		client:         rdb,
		stream:         cfg.Stream,
		consumerGroup:  cfg.ConsumerGroup,
		consumer:       cfg.ConsumerName,
		delayedSet:     delayed,
		reserveTimeout: cfg.ReserveTimeout,
	}
}

func (q *RedisClient) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.consumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *RedisClient) Get(ctx context.Context, n int) ([]Message, error) {
	out := make([]Message, 0, n)
	if n <= 0 {
		return out, nil
	}

	if q.reserveTimeout > 0 {
		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.stream,
			Group:    q.consumerGroup,
			Consumer: q.consumer,
			MinIdle:  q.reserveTimeout,
			Start:    "0-0",
			Count:    int64(n),
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return out, fmt.Errorf("xautoclaim: %w", err)
		}
		out = appendMessages(out, claimed)
		if len(out) >= n {
			return out, nil
		}
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.consumerGroup,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(n - len(out)),
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, s := range streams {
		out = appendMessages(out, s.Messages)
	}
	return out, nil
}

func (q *RedisClient) Post(ctx context.Context, body []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{bodyField: string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

func (q *RedisClient) Delete(ctx context.Context, id string) error {
	var ack, del *redis.IntCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		ack = p.XAck(ctx, q.stream, q.consumerGroup, id)
		del = p.XDel(ctx, q.stream, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if ack.Val() == 0 && del.Val() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Release removes the entry from the pending list and puts its body back on
// the stream under a new id. With a delay the body goes to the delayed set
// instead and PromoteDue moves it back once due.
func (q *RedisClient) Release(ctx context.Context, id string, delay time.Duration) error {
	entries, err := q.client.XRangeN(ctx, q.stream, id, id, 1).Result()
	if err != nil {
		return fmt.Errorf("xrange %s: %w", id, err)
	}
	if len(entries) == 0 {
		return ErrMessageNotFound
	}
	body := bodyOf(entries[0])

	var member []byte
	if delay > 0 {
		member, err = json.Marshal(delayedMessage{Origin: id, Body: body})
		if err != nil {
			return fmt.Errorf("encode delayed message: %w", err)
		}
	}

	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, q.stream, q.consumerGroup, id)
		p.XDel(ctx, q.stream, id)
		if delay > 0 {
			p.ZAdd(ctx, q.delayedSet, redis.Z{
				Score:  float64(time.Now().Add(delay).UnixMilli()),
				Member: string(member),
			})
		} else {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: q.stream,
				Values: map[string]interface{}{bodyField: body},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

func (q *RedisClient) Close() error {
	return q.client.Close()
}

func appendMessages(out []Message, msgs []redis.XMessage) []Message {
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		out = append(out, Message{ID: m.ID, Body: []byte(bodyOf(m))})
	}
	return out
}

// bodyOf returns the body field, or "" when the entry has none; an empty body
// fails decoding and gets quarantined like any other bad message.
func bodyOf(m redis.XMessage) string {
	raw, ok := m.Values[bodyField].(string)
	if !ok {
		return ""
	}
	return raw
}
