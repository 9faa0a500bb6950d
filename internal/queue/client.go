// Package queue talks to the backend message queue.
//
// Client is the narrow contract every backend implements: get a batch of
// messages, post one, delete one, release one back to the queue. Adapter sits
// on top of a Client and turns raw messages into jobs, quarantining bodies
// that do not decode before they reach a handler.
//
// Backends:
//
//   - RedisClient: a Redis stream read through a consumer group
//   - AMQPClient: a RabbitMQ queue read with basic.get
//   - MemoryClient: an in-process queue for tests and local runs
//
// Implementations must be safe for concurrent use; the consumer issues
// fetches and acks from many goroutines without extra locking.
package queue

import (
	"context"
	"errors"
	"time"
)

var ErrMessageNotFound = errors.New("message not found")

// Message is a raw message as returned by a backend.
type Message struct {
	ID   string
	Body []byte
}

type Client interface {
	// Get reserves up to n messages. It returns fewer when fewer are
	// available and an empty slice, not an error, when the queue is empty.
	// On a fault partway through a batch the messages already reserved are
	// returned together with the error.
	Get(ctx context.Context, n int) ([]Message, error)

	// Post appends a message and returns its backend id.
	Post(ctx context.Context, body []byte) (string, error)

	// Delete removes a reserved message for good.
	Delete(ctx context.Context, id string) error

	// Release makes a reserved message available again after delay.
	Release(ctx context.Context, id string, delay time.Duration) error
}
