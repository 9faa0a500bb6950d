package stats

import "sync/atomic"

// Counters are the processing counters of one consumer. The zero value is
// ready to use.
type Counters struct {
	processed   atomic.Int64
	queueErrors atomic.Int64
	sysErrors   atomic.Int64
}

// Snapshot is a point-in-time copy of Counters in the shape served by the
// admin API.
type Snapshot struct {
	JobsProcessed int64  `json:"jobsProcessed"`
	Errors        Errors `json:"errors"`
}

type Errors struct {
	System int64 `json:"system"`
	Queue  int64 `json:"queue"`
}

func (c *Counters) JobProcessed() { c.processed.Add(1) }

// QueueError counts a job that failed because of its content: a body that
// did not decode or a handler that rejected it.
func (c *Counters) QueueError() { c.queueErrors.Add(1) }

// SystemError counts faults not caused by job data: missing handlers and
// backend communication failures.
func (c *Counters) SystemError() { c.sysErrors.Add(1) }

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		JobsProcessed: c.processed.Load(),
		Errors: Errors{
			System: c.sysErrors.Load(),
			Queue:  c.queueErrors.Load(),
		},
	}
}

// Total is the number of jobs and faults counted so far.
func (s Snapshot) Total() int64 {
	return s.JobsProcessed + s.Errors.Queue + s.Errors.System
}
