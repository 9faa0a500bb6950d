package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"redis-job-consumer/internal/config"
	"redis-job-consumer/internal/job"
	"redis-job-consumer/internal/queue"
	"redis-job-consumer/internal/registry"
)

func runEnqueue(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newEnqueueCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestEnqueue_PostsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("BACKEND", config.BackendRedis)
	t.Setenv("REDIS_ADDR", mr.Addr())

	id, err := runEnqueue(t, "--type", "echo.process", "--data", `{"msg":"hi"}`)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cfg := config.Load()
	rc, err := queue.NewRedisClient(context.Background(), cfg.Redis)
	require.NoError(t, err)
	defer rc.Close()

	msgs, err := rc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	j, err := job.Decode(msgs[0].ID, msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "echo.process", j.Type)
	assert.Equal(t, "hi", j.Map()["msg"])
}

func TestEnqueue_RejectsBadInput(t *testing.T) {
	t.Setenv("BACKEND", config.BackendRedis)

	_, err := runEnqueue(t, "--type", "x", "--data", `{"msg":`)
	assert.ErrorContains(t, err, "invalid --data")

	_, err = runEnqueue(t, "--data", `{}`)
	assert.Error(t, err)

	t.Setenv("BACKEND", config.BackendMemory)
	_, err = runEnqueue(t, "--type", "x")
	assert.ErrorContains(t, err, "shared backend")
}

func TestRegisterHandlers(t *testing.T) {
	reg := registry.New()
	registerHandlers(reg, zap.NewNop())

	assert.Equal(t, []string{"echo.process"}, reg.Types())

	h, ok := reg.Lookup("echo.process")
	require.True(t, ok)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h(ctx, job.New("echo.process", nil)), context.Canceled)
}
