package queue

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryID_RoundTrip(t *testing.T) {
	for _, tag := range []uint64{1, 42, 1<<63 + 5} {
		got, err := parseDeliveryID(deliveryID(tag))
		require.NoError(t, err)
		assert.Equal(t, tag, got)
	}
}

func TestParseDeliveryID_Invalid(t *testing.T) {
	for _, id := range []string{"", "0", "-1", "1-0", "abc"} {
		_, err := parseDeliveryID(id)
		assert.ErrorIs(t, err, ErrMessageNotFound, id)
	}
}

func TestMapAMQPError(t *testing.T) {
	unknown := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - unknown delivery tag 7"}
	assert.ErrorIs(t, mapAMQPError(unknown), ErrMessageNotFound)

	closed := amqp.ErrClosed
	got := mapAMQPError(closed)
	assert.Same(t, closed, got)
	assert.False(t, errors.Is(got, ErrMessageNotFound))
}

func TestAMQPClient_BadIDNeverReachesChannel(t *testing.T) {
	// no connection: a bad id must be rejected before the channel is used
	q := &AMQPClient{}

	assert.ErrorIs(t, q.Delete(context.Background(), "1-0"), ErrMessageNotFound)
	assert.ErrorIs(t, q.Release(context.Background(), "nope", 0), ErrMessageNotFound)
}
