// Package journal keeps jobs that were quarantined by the consumer so
// operators can inspect and delete them.
//
// The journal is in memory only. Entries are listed in insertion order and
// keyed by a journal-local id that stays valid after the original message has
// been deleted from the backend queue. Recording is idempotent on the backend
// message id, so a message that is redelivered after a failed delete shows up
// once.
package journal

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"redis-job-consumer/internal/job"
)

var ErrNotFound = errors.New("journal entry not found")

// Reason classifies why a job was quarantined.
type Reason string

const (
	ReasonDecode    Reason = "decode-error"
	ReasonHandler   Reason = "handler-error"
	ReasonNoHandler Reason = "no-handler"
)

// Entry is one quarantined job.
type Entry struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"sourceId"`
	Reason        Reason    `json:"reason"`
	Error         string    `json:"error,omitempty"`
	Job           job.Job   `json:"job"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
}

// Journal is safe for concurrent use.
type Journal struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	order    []string
	bySource map[string]string

	newID func() string
	now   func() time.Time
}

func New() *Journal {
	return &Journal{
		entries:  make(map[string]Entry),
		bySource: make(map[string]string),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Record appends e and returns its journal id. If an entry for the same
// SourceID already exists, its id is returned and inserted is false.
func (j *Journal) Record(e Entry) (id string, inserted bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.SourceID != "" {
		if existing, ok := j.bySource[e.SourceID]; ok {
			return existing, false
		}
	}

	e.ID = j.newID()
	if e.QuarantinedAt.IsZero() {
		e.QuarantinedAt = j.now().UTC()
	}
	j.entries[e.ID] = e
	j.order = append(j.order, e.ID)
	if e.SourceID != "" {
		j.bySource[e.SourceID] = e.ID
	}
	return e.ID, true
}

// List returns a copy of all entries in insertion order.
func (j *Journal) List() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.entries[id])
	}
	return out
}

func (j *Journal) Get(id string) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Contains reports whether a message with the given backend id is journaled.
func (j *Journal) Contains(sourceID string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	_, ok := j.bySource[sourceID]
	return ok
}

// Remove deletes the entry with the given journal id.
func (j *Journal) Remove(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.entries[id]
	if !ok {
		return ErrNotFound
	}
	delete(j.entries, id)
	if e.SourceID != "" {
		delete(j.bySource, e.SourceID)
	}
	for i, oid := range j.order {
		if oid == id {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
	return nil
}

func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.order)
}

// Clear drops every entry.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make(map[string]Entry)
	j.bySource = make(map[string]string)
	j.order = nil
}
