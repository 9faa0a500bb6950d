package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"redis-job-consumer/internal/admin"
	"redis-job-consumer/internal/config"
	"redis-job-consumer/internal/consumer"
	"redis-job-consumer/internal/queue"
	"redis-job-consumer/internal/registry"
)

const promoteEvery = time.Second

// App wires a backend client, a consumer and, when configured, the admin
// server.
type App struct {
	cfg      config.Config
	client   queue.Client
	close    func() error
	Consumer *consumer.Consumer
	// Admin is nil unless admin settings were supplied.
	Admin *admin.Server
	log   *zap.Logger
}

func New(ctx context.Context, cfg config.Config, reg *registry.Registry, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, closeFn, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		client: client,
		close:  closeFn,
		Consumer: consumer.New(client, reg, consumer.Options{
			PollInterval: cfg.PollInterval,
			Parallel:     cfg.Parallel,
		}, log),
		log: log,
	}
	if cfg.Admin != nil {
		a.Admin = admin.New(*cfg.Admin, a.Consumer, a.Consumer.Journal(), log)
	}
	return a, nil
}

// NewClient connects to the configured backend. The returned func closes it.
func NewClient(ctx context.Context, cfg config.Config) (queue.Client, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		c, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.BackendRabbitMQ:
		c, err := queue.NewAMQPClient(cfg.AMQP)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case config.BackendMemory:
		return queue.NewMemoryClient(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
	}
}

// Run starts everything and blocks until ctx is done, then shuts down:
// the admin server first, then the consumer, which drains in-flight jobs
// within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	if a.Admin != nil {
		if err := a.Admin.Start(); err != nil {
			return fmt.Errorf("start admin server: %w", err)
		}
	}

	if rc, ok := a.client.(*queue.RedisClient); ok {
		go rc.RunPromoter(ctx, promoteEvery, a.log)
	}

	// fetching stops with ctx; running handlers are drained by Stop below
	a.Consumer.Start(ctx)

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Admin != nil {
		if err := a.Admin.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
		}
	}
	if err := a.Consumer.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("consumer stop: %w", err))
	}
	a.log.Info("shutdown complete", zap.Any("stats", a.Consumer.Stats()))
	return errors.Join(errs...)
}

func (a *App) Close() error {
	return a.close()
}
