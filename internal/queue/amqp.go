package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"redis-job-consumer/internal/config"
)

// AMQPClient is a Client backed by a RabbitMQ queue. Messages are pulled with
// basic.get and stay unacked until deleted or released; the delivery tag is
// the message id, so ids are only meaningful on the channel that fetched them.
type AMQPClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu sync.Mutex
}

func NewAMQPClient(cfg config.AMQP) (*AMQPClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	return &AMQPClient{
		conn:    conn,
		channel: ch,
		queue:   cfg.Queue,
	}, nil
}

func (q *AMQPClient) Get(ctx context.Context, n int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, ok, err := q.channel.Get(q.queue, false)
		if err != nil {
			return out, fmt.Errorf("basic.get: %w", err)
		}
		if !ok {
			break
		}
		out = append(out, Message{
			ID:   deliveryID(d.DeliveryTag),
			Body: d.Body,
		})
	}
	return out, nil
}

func (q *AMQPClient) Post(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	err := q.channel.PublishWithContext(ctx,
		"",
		q.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    id,
			Body:         body,
		},
	)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

func (q *AMQPClient) Delete(_ context.Context, id string) error {
	tag, err := parseDeliveryID(id)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.channel.Ack(tag, false); err != nil {
		return mapAMQPError(err)
	}
	return nil
}

// Release requeues the message. RabbitMQ has no per-message delay without a
// plugin, so delay is ignored.
func (q *AMQPClient) Release(_ context.Context, id string, _ time.Duration) error {
	tag, err := parseDeliveryID(id)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.channel.Nack(tag, false, true); err != nil {
		return mapAMQPError(err)
	}
	return nil
}

func (q *AMQPClient) Close() error {
	if err := q.channel.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}

func deliveryID(tag uint64) string {
	return strconv.FormatUint(tag, 10)
}

// parseDeliveryID turns a message id back into a delivery tag. Tags start at 1.
func parseDeliveryID(id string) (uint64, error) {
	tag, err := strconv.ParseUint(id, 10, 64)
	if err != nil || tag == 0 {
		return 0, fmt.Errorf("%w: bad delivery tag %q", ErrMessageNotFound, id)
	}
	return tag, nil
}

// mapAMQPError reports an ack or nack of an unknown tag as ErrMessageNotFound.
// The broker answers those with PRECONDITION_FAILED and closes the channel.
func mapAMQPError(err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return fmt.Errorf("%w: %v", ErrMessageNotFound, err)
	}
	return err
}
