package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redis-job-consumer/internal/config"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	q, err := NewRedisClient(context.Background(), config.Redis{
		Addr:          mr.Addr(),
		Stream:        "jobs:stream",
		ConsumerGroup: "jobs:cg",
		ConsumerName:  "test",
		DelayedSet:    "jobs:delayed",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestRedisClient_GetFromEmptyStream(t *testing.T) {
	q, _ := newTestRedis(t)

	msgs, err := q.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRedisClient_PostGetInOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedis(t)

	id1, err := q.Post(ctx, []byte(`{"type":"a"}`))
	require.NoError(t, err)
	id2, err := q.Post(ctx, []byte(`{"type":"b"}`))
	require.NoError(t, err)

	msgs, err := q.Get(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id1, msgs[0].ID)
	assert.Equal(t, id2, msgs[1].ID)
	assert.Equal(t, `{"type":"a"}`, string(msgs[0].Body))

	// reserved messages are not handed out twice
	again, err := q.Get(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRedisClient_Delete(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedis(t)

	_, err := q.Post(ctx, []byte(`{"type":"a"}`))
	require.NoError(t, err)
	msgs, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Delete(ctx, msgs[0].ID))
	assert.ErrorIs(t, q.Delete(ctx, msgs[0].ID), ErrMessageNotFound)

	entries, err := mr.Stream("jobs:stream")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisClient_Release(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedis(t)

	_, err := q.Post(ctx, []byte(`{"type":"a"}`))
	require.NoError(t, err)
	msgs, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Release(ctx, msgs[0].ID, 0))

	again, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, `{"type":"a"}`, string(again[0].Body))
	assert.NotEqual(t, msgs[0].ID, again[0].ID)

	assert.ErrorIs(t, q.Release(ctx, "0-1", 0), ErrMessageNotFound)
}

func TestRedisClient_ReleaseWithDelay(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestRedis(t)

	_, err := q.Post(ctx, []byte(`{"type":"a"}`))
	require.NoError(t, err)
	msgs, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Release(ctx, msgs[0].ID, time.Minute))

	none, err := q.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none)

	n, err := q.PromoteDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.PromoteDue(ctx, time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, `{"type":"a"}`, string(again[0].Body))
}

func TestRedisClient_EntryWithoutBodyField(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestRedis(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: "jobs:stream",
		Values: map[string]interface{}{"other": "x"},
	}).Err())

	msgs, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Empty(t, msgs[0].Body)
}

func TestRedisClient_ReclaimsStalePendingMessages(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	q, err := NewRedisClient(ctx, config.Redis{
		Addr:           mr.Addr(),
		Stream:         "jobs:stream",
		ConsumerGroup:  "jobs:cg",
		ConsumerName:   "test",
		ReserveTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	id, err := q.Post(ctx, []byte(`{"type":"a"}`))
	require.NoError(t, err)

	msgs, err := q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// still fresh: nothing to reclaim and nothing new
	msgs, err = q.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	time.Sleep(100 * time.Millisecond)
	msgs, err = q.Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, `{"type":"a"}`, string(msgs[0].Body))

	require.NoError(t, q.Delete(ctx, id))
	time.Sleep(100 * time.Millisecond)
	msgs, err = q.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
