package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	Message
	readyAt time.Time
}

// MemoryClient is an unbounded in-process Client. Messages are handed out in
// post order; released messages go back to the head.
type MemoryClient struct {
	mu        sync.Mutex
	available []memoryMessage
	reserved  map[string]memoryMessage
	now       func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		reserved: make(map[string]memoryMessage),
		now:      time.Now,
	}
}

func (q *MemoryClient) Get(ctx context.Context, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	out := make([]Message, 0, n)
	kept := q.available[:0]
	for _, m := range q.available {
		if len(out) < n && !m.readyAt.After(now) {
			q.reserved[m.ID] = m
			out = append(out, m.Message)
			continue
		}
		kept = append(kept, m)
	}
	q.available = kept
	return out, nil
}

func (q *MemoryClient) Post(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.available = append(q.available, memoryMessage{
		Message: Message{ID: id, Body: append([]byte(nil), body...)},
	})
	return id, nil
}

func (q *MemoryClient) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.reserved[id]; !ok {
		return ErrMessageNotFound
	}
	delete(q.reserved, id)
	return nil
}

// Release puts the message back at the head of the queue.
func (q *MemoryClient) Release(ctx context.Context, id string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	m, ok := q.reserved[id]
	if !ok {
		return ErrMessageNotFound
	}
	delete(q.reserved, id)
	m.readyAt = q.now().Add(delay)
	q.available = append([]memoryMessage{m}, q.available...)
	return nil
}

// Len is the number of messages not currently reserved.
func (q *MemoryClient) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.available)
}

func (q *MemoryClient) Reserved() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reserved)
}
