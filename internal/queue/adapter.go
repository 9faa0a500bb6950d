package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"redis-job-consumer/internal/job"
	"redis-job-consumer/internal/journal"
	"redis-job-consumer/internal/stats"
)

// Adapter turns backend messages into jobs and owns the quarantine path.
type Adapter struct {
	client   Client
	journal  *journal.Journal
	counters *stats.Counters
	log      *zap.Logger
}

func NewAdapter(client Client, j *journal.Journal, counters *stats.Counters, log *zap.Logger) *Adapter {
	return &Adapter{
		client:   client,
		journal:  j,
		counters: counters,
		log:      log.Named("adapter"),
	}
}

// Fetch reserves up to max messages and returns the ones that decode, in
// backend order. Messages that do not decode are quarantined here and never
// returned. If the backend fails partway, the jobs decoded so far are
// returned along with the error.
func (a *Adapter) Fetch(ctx context.Context, max int) ([]job.Job, error) {
	if max <= 0 {
		return nil, nil
	}

	msgs, fetchErr := a.client.Get(ctx, max)
	if fetchErr != nil {
		a.log.Warn("fetch from backend", zap.Int("requested", max), zap.Int("received", len(msgs)), zap.Error(fetchErr))
	}

	jobs := make([]job.Job, 0, len(msgs))
	for _, m := range msgs {
		j, err := job.Decode(m.ID, m.Body)
		if err != nil {
			a.log.Warn("bad message body", zap.String("message_id", m.ID), zap.Error(err))
			_ = a.Quarantine(context.WithoutCancel(ctx), j, journal.ReasonDecode, err)
			continue
		}
		jobs = append(jobs, j)
	}

	if fetchErr != nil {
		return jobs, fmt.Errorf("fetch: %w", fetchErr)
	}
	return jobs, nil
}

// Ack deletes a finished message from the backend.
func (a *Adapter) Ack(ctx context.Context, id string) error {
	if err := a.client.Delete(ctx, id); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Release hands a reserved message back without evaluating it.
func (a *Adapter) Release(ctx context.Context, id string, delay time.Duration) error {
	if err := a.client.Release(ctx, id, delay); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// Post enqueues j and returns its backend id.
func (a *Adapter) Post(ctx context.Context, j job.Job) (string, error) {
	body, err := j.Encode()
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	id, err := a.client.Post(ctx, body)
	if err != nil {
		return "", fmt.Errorf("post: %w", err)
	}
	return id, nil
}

// Quarantine records j in the journal, counts it against the counter for
// reason and deletes it from the backend. A message that is already
// journaled is not counted twice; the delete is still attempted. A failed
// delete is logged and returned without touching the counters, so the
// message is counted once even when it is redelivered.
func (a *Adapter) Quarantine(ctx context.Context, j job.Job, reason journal.Reason, cause error) error {
	entry := journal.Entry{
		SourceID: j.ID,
		Reason:   reason,
		Job:      j,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	journalID, inserted := a.journal.Record(entry)
	if inserted {
		switch reason {
		case journal.ReasonNoHandler:
			a.counters.SystemError()
		default:
			a.counters.QueueError()
		}
	}

	a.log.Info("job quarantined",
		zap.String("message_id", j.ID),
		zap.String("journal_id", journalID),
		zap.String("reason", string(reason)),
		zap.Bool("duplicate", !inserted),
	)

	if err := a.Ack(ctx, j.ID); err != nil {
		a.log.Error("delete quarantined message", zap.String("message_id", j.ID), zap.Error(err))
		return err
	}
	return nil
}

// Quarantined reports whether the backend message id is already journaled.
func (a *Adapter) Quarantined(id string) bool {
	return a.journal.Contains(id)
}
