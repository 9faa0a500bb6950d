package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_Ticks(t *testing.T) {
	var n atomic.Int64
	c := New(10*time.Millisecond, func(time.Time) { n.Add(1) })

	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestClock_StartIsIdempotent(t *testing.T) {
	var n atomic.Int64
	c := New(20*time.Millisecond, func(time.Time) { n.Add(1) })

	c.Start()
	c.Start()
	c.Start()
	time.Sleep(110 * time.Millisecond)
	c.Stop()

	// A single timer yields about five ticks; three timers would yield about fifteen.
	assert.LessOrEqual(t, n.Load(), int64(7))
	assert.GreaterOrEqual(t, n.Load(), int64(2))
}

func TestClock_StopAndResume(t *testing.T) {
	var n atomic.Int64
	c := New(10*time.Millisecond, func(time.Time) { n.Add(1) })

	c.Stop() // stopping a stopped clock is fine
	assert.False(t, c.Running())

	c.Start()
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
	assert.False(t, c.Running())

	// let any tick that fired right before Stop finish
	time.Sleep(20 * time.Millisecond)
	stopped := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())

	c.Start()
	defer c.Stop()
	assert.True(t, c.Running())
	require.Eventually(t, func() bool { return n.Load() > stopped }, time.Second, 5*time.Millisecond)
}

func TestClock_SlowCallbackDoesNotCoalesceTicks(t *testing.T) {
	var started atomic.Int64
	block := make(chan struct{})
	c := New(10*time.Millisecond, func(time.Time) {
		started.Add(1)
		<-block
	})

	c.Start()
	require.Eventually(t, func() bool { return started.Load() >= 3 }, time.Second, 5*time.Millisecond)
	c.Stop()
	close(block)
}
