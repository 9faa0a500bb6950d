// Package consumer polls a backend queue on a fixed interval and dispatches
// each job to the handler registered for its type.
//
// At most Parallel jobs are reserved at any time. Every tick reserves the
// free share of that budget, fetches that many messages and starts one
// goroutine per job. A job leaves the reserved state exactly once:
//
//   - handler returns nil: counted as processed and deleted from the backend
//   - handler returns an error or panics: quarantined as handler-error
//   - no handler for the type: quarantined as no-handler
//
// Quarantined jobs are never retried. Bodies that do not decode are
// quarantined by the adapter before they get here.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"redis-job-consumer/internal/clock"
	"redis-job-consumer/internal/job"
	"redis-job-consumer/internal/journal"
	"redis-job-consumer/internal/queue"
	"redis-job-consumer/internal/registry"
	"redis-job-consumer/internal/stats"
)

type Options struct {
	PollInterval time.Duration
	Parallel     int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Parallel <= 0 {
		o.Parallel = 1
	}
	return o
}

type Consumer struct {
	opts     Options
	adapter  *queue.Adapter
	registry *registry.Registry
	journal  *journal.Journal
	counters *stats.Counters
	clock    *clock.Clock
	log      *zap.Logger

	// slots holds one unit per reserved job; units taken for a fetch that
	// came back short are returned right away.
	slots       *semaphore.Weighted
	outstanding atomic.Int64

	mu      sync.Mutex
	running bool
	ctx     context.Context
	active  int
	idle    chan struct{}
	// inflight holds the message ids of jobs fetched and not yet finished.
	// A backend may hand the same message out again while its handler is
	// still running; such copies are dropped.
	inflight map[string]struct{}
}

func New(client queue.Client, reg *registry.Registry, opts Options, log *zap.Logger) *Consumer {
	opts = opts.withDefaults()
	log = log.Named("consumer")

	j := journal.New()
	counters := &stats.Counters{}

	c := &Consumer{
		opts:     opts,
		adapter:  queue.NewAdapter(client, j, counters, log),
		registry: reg,
		journal:  j,
		counters: counters,
		log:      log,
		slots:    semaphore.NewWeighted(int64(opts.Parallel)),
		inflight: make(map[string]struct{}),
	}
	c.clock = clock.New(opts.PollInterval, c.onTick)
	return c
}

// Start begins polling; it is a no-op while running. Once ctx is done no
// further fetches are made. Handlers see ctx's values but are never
// cancelled through it.
func (c *Consumer) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.ctx = ctx
	c.clock.Start()

	c.log.Info("consumer started",
		zap.Duration("poll_interval", c.opts.PollInterval),
		zap.Int("parallel", c.opts.Parallel),
		zap.Strings("types", c.registry.Types()),
	)
}

// Stop halts polling and waits until every fetched job has finished, or
// until ctx is done. Running handlers are not interrupted. Start may be
// called again afterwards.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.running = false
		c.clock.Stop()
	}
	if c.active == 0 {
		c.mu.Unlock()
		c.log.Info("consumer stopped")
		return nil
	}
	if c.idle == nil {
		c.idle = make(chan struct{})
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		c.log.Info("consumer stopped")
		return nil
	case <-ctx.Done():
		c.log.Warn("consumer stop timed out", zap.Int64("outstanding", c.outstanding.Load()))
		return ctx.Err()
	}
}

func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Outstanding is the number of jobs fetched but not yet finished.
func (c *Consumer) Outstanding() int {
	return int(c.outstanding.Load())
}

func (c *Consumer) Stats() stats.Snapshot {
	return c.counters.Snapshot()
}

func (c *Consumer) Journal() *journal.Journal {
	return c.journal
}

// Enqueue posts a new job to the backend queue.
func (c *Consumer) Enqueue(ctx context.Context, jobType string, data map[string]any) (string, error) {
	return c.adapter.Post(ctx, job.New(jobType, data))
}

func (c *Consumer) onTick(time.Time) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.active++
	c.mu.Unlock()

	defer c.done()
	c.poll(ctx)
}

func (c *Consumer) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	n := c.reserve()
	if n == 0 {
		return
	}

	jobs, err := c.adapter.Fetch(ctx, n)
	if err != nil {
		c.counters.SystemError()
		c.log.Warn("fetch jobs", zap.Error(err))
	}
	c.outstanding.Add(int64(len(jobs)))

	fresh := jobs[:0]
	for _, j := range jobs {
		if !c.claim(j.ID) {
			c.log.Debug("job already in flight, skipping", zap.String("message_id", j.ID))
			c.outstanding.Add(-1)
			continue
		}
		fresh = append(fresh, j)
	}
	if unused := n - len(fresh); unused > 0 {
		c.slots.Release(int64(unused))
	}

	for i, j := range fresh {
		if ctx.Err() != nil {
			c.release(ctx, fresh[i:])
			return
		}
		c.dispatch(ctx, j)
	}
}

// claim marks id as in flight. It reports false if it already was.
func (c *Consumer) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inflight[id]; ok {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

// reserve takes as many free slots as are available without blocking.
func (c *Consumer) reserve() int {
	n := 0
	for n < c.opts.Parallel && c.slots.TryAcquire(1) {
		n++
	}
	return n
}

func (c *Consumer) dispatch(ctx context.Context, j job.Job) {
	bg := context.WithoutCancel(ctx)
	log := c.log.With(zap.String("message_id", j.ID), zap.String("type", j.Type))

	if c.adapter.Quarantined(j.ID) {
		log.Warn("redelivered quarantined job, deleting")
		if err := c.adapter.Ack(bg, j.ID); err != nil {
			log.Error("delete redelivered job", zap.Error(err))
		}
		c.finish(j.ID)
		return
	}

	h, ok := c.registry.Lookup(j.Type)
	if !ok {
		_ = c.adapter.Quarantine(bg, j, journal.ReasonNoHandler, fmt.Errorf("no handler registered for %q", j.Type))
		c.finish(j.ID)
		return
	}

	c.mu.Lock()
	c.active++
	c.mu.Unlock()
	go c.run(bg, h, j)
}

func (c *Consumer) run(ctx context.Context, h registry.Handler, j job.Job) {
	defer c.done()
	defer c.finish(j.ID)

	log := c.log.With(zap.String("message_id", j.ID), zap.String("type", j.Type))

	if err := invoke(ctx, h, j); err != nil {
		log.Warn("job failed", zap.Error(err))
		_ = c.adapter.Quarantine(ctx, j, journal.ReasonHandler, err)
		return
	}

	c.counters.JobProcessed()
	// already counted; a failed delete leaves the message to be redelivered
	if err := c.adapter.Ack(ctx, j.ID); err != nil {
		log.Error("delete finished job", zap.Error(err))
		return
	}
	log.Debug("job done")
}

// release hands jobs that were fetched but never evaluated back to the
// backend.
func (c *Consumer) release(ctx context.Context, jobs []job.Job) {
	bg := context.WithoutCancel(ctx)
	for _, j := range jobs {
		if err := c.adapter.Release(bg, j.ID, 0); err != nil {
			c.log.Error("release job", zap.String("message_id", j.ID), zap.Error(err))
		}
		c.finish(j.ID)
	}
}

func (c *Consumer) finish(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
	c.outstanding.Add(-1)
	c.slots.Release(1)
}

func (c *Consumer) done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	if c.active == 0 && c.idle != nil {
		close(c.idle)
		c.idle = nil
	}
}

func invoke(ctx context.Context, h registry.Handler, j job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, j)
}
