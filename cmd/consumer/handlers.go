package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"redis-job-consumer/internal/job"
	"redis-job-consumer/internal/registry"
)

// registerHandlers installs the job types this binary knows how to run.
func registerHandlers(reg *registry.Registry, log *zap.Logger) {
	log = log.Named("handlers")

	reg.Register("echo.process", func(ctx context.Context, j job.Job) error {
		log.Info("processing job", zap.String("message_id", j.ID), zap.Any("data", j.Data))
		// simulate work
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
		log.Info("echo done", zap.String("message_id", j.ID))
		return nil
	})
}
